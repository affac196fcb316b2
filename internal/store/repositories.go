package store

import "context"

// UserRepository defines lookups against the user directory.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Upsert(ctx context.Context, user User) (*User, error)
}

// CollaborationRepository resolves collaborations and their write permission.
type CollaborationRepository interface {
	QueryOne(ctx context.Context, objectType, id string) (*Collaboration, error)
	CanWrite(ctx context.Context, collaboration *Collaboration, userID string) (bool, error)
}

// EventMessageRepository persists event timeline messages.
type EventMessageRepository interface {
	Save(ctx context.Context, msg EventMessage) (*EventMessage, error)
	FindByEventID(ctx context.Context, eventID string) (*EventMessage, error)
}

// ModuleConfigRepository reads per-module JSON configuration documents.
type ModuleConfigRepository interface {
	// Get decodes the document stored under module/key into dest.
	// It returns ErrNotFound when no document exists.
	Get(ctx context.Context, module, key string, dest any) error
	Set(ctx context.Context, module, key string, value any) error
}
