package auth

import (
	"context"
	"time"

	"pagat.app/internal/audit"
	"pagat.app/internal/store"
)

// UserStore describes the user persistence the auth subsystem needs.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*store.User, error)
	FindByID(ctx context.Context, id int64) (*store.User, error)
	Create(ctx context.Context, u *store.User) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	UpdateApproval(ctx context.Context, id int64, approved int) error
	UpdateRole(ctx context.Context, id int64, role string) error
	UpdateLoginMetadata(ctx context.Context, id int64, ip string, at time.Time) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, status string) ([]store.User, error)
	Count(ctx context.Context) (int, error)
}

// Recorder appends audit entries without reporting failures.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, audit.Entry) {}
