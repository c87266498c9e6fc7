package passkey

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"pagat.app/internal/audit"
	"pagat.app/internal/auth"
	"pagat.app/internal/store"
)

// MaxNameLength bounds credential labels, in runes.
const MaxNameLength = 64

// ListCredentials returns ownerID's credentials. Users may list their own;
// admins may list anyone's.
func (m *Manager) ListCredentials(ctx context.Context, actor auth.Identity, ownerID int64) ([]store.Credential, error) {
	if actor.ID != ownerID {
		if err := auth.RequireAdmin(actor); err != nil {
			return nil, err
		}
	}
	return m.creds.ListByUser(ctx, ownerID)
}

// RenameCredential relabels a credential. Labels are trimmed and cut to
// MaxNameLength runes.
func (m *Manager) RenameCredential(ctx context.Context, actor auth.Identity, id int64, name string) (*store.Credential, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:MaxNameLength]))
	}
	c, err := m.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := m.creds.Rename(ctx, c.ID, name); err != nil {
		return nil, err
	}
	m.recorder.Record(ctx, audit.Entry{
		Entity:   "webauthn_credential",
		EntityID: strconv.FormatInt(c.ID, 10),
		Action:   "rename",
		Username: actor.Username,
		Info:     c.Name + " -> " + name,
	})
	c.Name = name
	return c, nil
}

// DeleteCredential removes a credential owned by the actor. Admins may
// delete any credential.
func (m *Manager) DeleteCredential(ctx context.Context, actor auth.Identity, id int64) error {
	c, err := m.owned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := m.creds.Delete(ctx, c.ID); err != nil {
		return err
	}
	m.recorder.Record(ctx, audit.Entry{
		Entity:   "webauthn_credential",
		EntityID: strconv.FormatInt(c.ID, 10),
		Action:   "delete",
		Username: actor.Username,
		Info:     fmt.Sprintf("owner=%d name=%s", c.UserID, c.Name),
	})
	return nil
}

// owned loads credential id when the actor owns it or is an admin.
func (m *Manager) owned(ctx context.Context, actor auth.Identity, id int64) (*store.Credential, error) {
	c, err := m.creds.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != actor.ID {
		if err := auth.RequireAdmin(actor); err != nil {
			return nil, err
		}
	}
	return c, nil
}
