package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pagat.app/internal/audit"
	"pagat.app/internal/store"
)

// Directory lets administrators review and manage users.
type Directory struct {
	users    UserStore
	recorder Recorder
}

func NewDirectory(users UserStore, recorder Recorder) (*Directory, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Directory{users: users, recorder: recorder}, nil
}

// ListUsers returns users in status pending, approved, rejected or all.
func (d *Directory) ListUsers(ctx context.Context, actor Identity, status string) ([]store.User, error) {
	if err := RequireAdmin(actor); err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "all", "pending", "approved", "rejected":
	default:
		return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	return d.users.List(ctx, status)
}

func (d *Directory) Approve(ctx context.Context, actor Identity, userID int64) error {
	return d.setApproval(ctx, actor, userID, store.Approved, "approve")
}

func (d *Directory) Reject(ctx context.Context, actor Identity, userID int64) error {
	return d.setApproval(ctx, actor, userID, store.Rejected, "reject")
}

func (d *Directory) setApproval(ctx context.Context, actor Identity, userID int64, approved int, action string) error {
	if err := RequireAdmin(actor); err != nil {
		return err
	}
	u, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := d.users.UpdateApproval(ctx, userID, approved); err != nil {
		return err
	}
	d.record(ctx, actor, userID, action, u.Username)
	return nil
}

// SetRole changes a user's role to user or admin.
func (d *Directory) SetRole(ctx context.Context, actor Identity, userID int64, role string) error {
	if err := RequireAdmin(actor); err != nil {
		return err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role != store.RoleUser && role != store.RoleAdmin {
		return fmt.Errorf("%w: unsupported role %s", ErrInvalidInput, role)
	}
	u, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := d.users.UpdateRole(ctx, userID, role); err != nil {
		return err
	}
	d.record(ctx, actor, userID, "role", u.Username+" -> "+role)
	return nil
}

// Delete removes a user and, through the schema, their credentials.
// Administrators cannot delete themselves.
func (d *Directory) Delete(ctx context.Context, actor Identity, userID int64) error {
	if err := RequireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == userID {
		return fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}
	u, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := d.users.Delete(ctx, userID); err != nil {
		return err
	}
	d.record(ctx, actor, userID, "delete", u.Username)
	return nil
}

func (d *Directory) record(ctx context.Context, actor Identity, userID int64, action, info string) {
	d.recorder.Record(ctx, audit.Entry{
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Action:   action,
		Username: actor.Username,
		Info:     info,
	})
}
