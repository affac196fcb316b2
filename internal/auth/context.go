package auth

import (
	"context"

	"github.com/jw6ventures/esn-calendar/internal/store"
)

type contextKey string

const (
	contextKeyUser    contextKey = "user"
	contextKeySubject contextKey = "subject"
)

func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(contextKeyUser).(*store.User)
	return u, ok && u != nil
}

// WithSubject records the token subject the request was authenticated with.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextKeySubject, subject)
}

func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(contextKeySubject).(string)
	return s
}
