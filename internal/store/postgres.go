package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// userRepo implements UserRepository.
type userRepo struct {
	pool DB
}

const userColumns = `id, firstname, lastname, emails, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Firstname, &u.Lastname, &u.Emails, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*User, error) {
	defer observeDB(ctx, "db.users.get_by_id")()
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, err
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer observeDB(ctx, "db.users.get_by_email")()
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	const q = `SELECT ` + userColumns + ` FROM users
WHERE EXISTS (SELECT 1 FROM unnest(emails) AS e WHERE lower(e) = lower($1))
ORDER BY created_at ASC
LIMIT 1`
	user, err := scanUser(r.pool.QueryRow(ctx, q, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return user, err
}

func (r *userRepo) Upsert(ctx context.Context, user User) (*User, error) {
	defer observeDB(ctx, "db.users.upsert")()
	if user.ID == "" {
		return nil, errors.New("user id is required")
	}
	if user.Emails == nil {
		user.Emails = []string{}
	}
	const q = `INSERT INTO users (id, firstname, lastname, emails)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    firstname = CASE WHEN EXCLUDED.firstname <> '' THEN EXCLUDED.firstname ELSE users.firstname END,
    lastname = CASE WHEN EXCLUDED.lastname <> '' THEN EXCLUDED.lastname ELSE users.lastname END,
    emails = CASE WHEN cardinality(EXCLUDED.emails) > 0 THEN EXCLUDED.emails ELSE users.emails END
RETURNING ` + userColumns
	saved, err := scanUser(r.pool.QueryRow(ctx, q, user.ID, user.Firstname, user.Lastname, user.Emails))
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return saved, nil
}

// collaborationRepo implements CollaborationRepository.
type collaborationRepo struct {
	pool DB
}

func (r *collaborationRepo) QueryOne(ctx context.Context, objectType, id string) (*Collaboration, error) {
	defer observeDB(ctx, "db.collaborations.query_one")()
	const q = `SELECT id, object_type, title, COALESCE(creator_id, ''), activity_stream_uuid, created_at
FROM collaborations WHERE object_type=$1 AND id=$2`
	var c Collaboration
	err := r.pool.QueryRow(ctx, q, objectType, id).Scan(&c.ID, &c.ObjectType, &c.Title, &c.CreatorID, &c.ActivityStreamUUID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query %s %s: %w", objectType, id, err)
	}
	return &c, nil
}

func (r *collaborationRepo) CanWrite(ctx context.Context, collaboration *Collaboration, userID string) (bool, error) {
	if collaboration == nil || userID == "" {
		return false, nil
	}
	if collaboration.CreatorID != "" && collaboration.CreatorID == userID {
		return true, nil
	}
	defer observeDB(ctx, "db.collaborations.can_write")()
	const q = `SELECT EXISTS (
    SELECT 1 FROM collaboration_members
    WHERE object_type=$1 AND collaboration_id=$2 AND member_id=$3 AND can_write
)`
	var ok bool
	if err := r.pool.QueryRow(ctx, q, collaboration.ObjectType, collaboration.ID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check write permission: %w", err)
	}
	return ok, nil
}

// eventMessageRepo implements EventMessageRepository.
type eventMessageRepo struct {
	pool DB
}

// Save inserts a new message. event_id is not unique, so two concurrent saves
// for the same event both succeed and FindByEventID returns the oldest.
func (r *eventMessageRepo) Save(ctx context.Context, msg EventMessage) (*EventMessage, error) {
	defer observeDB(ctx, "db.event_messages.save")()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Shares == nil {
		msg.Shares = []Share{}
	}
	shares, err := json.Marshal(msg.Shares)
	if err != nil {
		return nil, fmt.Errorf("encode shares: %w", err)
	}
	const q = `INSERT INTO event_messages (id, event_id, author_id, shares)
VALUES ($1, $2, $3, $4)
RETURNING created_at`
	if err := r.pool.QueryRow(ctx, q, msg.ID, msg.EventID, msg.AuthorID, shares).Scan(&msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("save event message: %w", err)
	}
	return &msg, nil
}

func (r *eventMessageRepo) FindByEventID(ctx context.Context, eventID string) (*EventMessage, error) {
	defer observeDB(ctx, "db.event_messages.find_by_event_id")()
	const q = `SELECT id, event_id, author_id, shares, created_at
FROM event_messages WHERE event_id=$1
ORDER BY created_at ASC
LIMIT 1`
	var (
		msg    EventMessage
		shares []byte
	)
	err := r.pool.QueryRow(ctx, q, eventID).Scan(&msg.ID, &msg.EventID, &msg.AuthorID, &shares, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find event message: %w", err)
	}
	if len(shares) > 0 {
		if err := json.Unmarshal(shares, &msg.Shares); err != nil {
			return nil, fmt.Errorf("decode shares: %w", err)
		}
	}
	return &msg, nil
}

// moduleConfigRepo implements ModuleConfigRepository.
type moduleConfigRepo struct {
	pool DB
}

func (r *moduleConfigRepo) Get(ctx context.Context, module, key string, dest any) error {
	defer observeDB(ctx, "db.module_configs.get")()
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM module_configs WHERE module=$1 AND key=$2`, module, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get config %s/%s: %w", module, key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode config %s/%s: %w", module, key, err)
	}
	return nil
}

func (r *moduleConfigRepo) Set(ctx context.Context, module, key string, value any) error {
	defer observeDB(ctx, "db.module_configs.set")()
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode config %s/%s: %w", module, key, err)
	}
	const q = `INSERT INTO module_configs (module, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (module, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := r.pool.Exec(ctx, q, module, key, raw); err != nil {
		return fmt.Errorf("set config %s/%s: %w", module, key, err)
	}
	return nil
}
