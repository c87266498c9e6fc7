package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Credentials accesses the webauthn_credentials table.
type Credentials struct{ db *DB }

func (d *DB) Credentials() *Credentials { return &Credentials{db: d} }

const credentialColumns = `id, user_id, credential_id, public_key, counter, transports, name, attestation_type, aaguid, backup_eligible, backup_state, created_at`

// EncodeCredentialID renders a raw credential id the way it is stored.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func (s *Credentials) ListByUser(ctx context.Context, userID int64) ([]Credential, error) {
	rows, err := s.db.query(ctx, `select `+credentialColumns+` from webauthn_credentials where user_id = ? order by id asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	return res, rows.Err()
}

func (s *Credentials) FindByID(ctx context.Context, id int64) (*Credential, error) {
	return scanCredential(s.db.queryRow(ctx, `select `+credentialColumns+` from webauthn_credentials where id = ?`, id))
}

func (s *Credentials) FindByCredentialID(ctx context.Context, raw []byte) (*Credential, error) {
	return scanCredential(s.db.queryRow(ctx,
		`select `+credentialColumns+` from webauthn_credentials where credential_id = ?`, EncodeCredentialID(raw)))
}

func (s *Credentials) CountByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, `select count(*) from webauthn_credentials where user_id = ?`, userID).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// Add stores a new credential. A duplicate credential id returns ErrConflict.
func (s *Credentials) Add(ctx context.Context, c *Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	transports, err := json.Marshal(nonNil(c.Transports))
	if err != nil {
		return fmt.Errorf("encoding transports: %w", err)
	}
	var aaguid any
	if len(c.AAGUID) > 0 {
		aaguid = c.AAGUID
	}
	err = s.db.queryRow(ctx, `
		insert into webauthn_credentials(user_id, credential_id, public_key, counter, transports, name, attestation_type, aaguid, backup_eligible, backup_state, created_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		returning id`,
		c.UserID, EncodeCredentialID(c.CredentialID), c.PublicKey, int64(c.Counter), string(transports), c.Name,
		nullable(c.AttestationType), aaguid, c.BackupEligible, c.BackupState, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", translate(err))
	}
	return nil
}

// UpdateCounter persists the authenticator's signature counter and backup state.
func (s *Credentials) UpdateCounter(ctx context.Context, id int64, counter uint32, backupState bool) error {
	return s.db.mutate(ctx, `update webauthn_credentials set counter = ?, backup_state = ? where id = ?`, int64(counter), backupState, id)
}

func (s *Credentials) Rename(ctx context.Context, id int64, name string) error {
	return s.db.mutate(ctx, `update webauthn_credentials set name = ? where id = ?`, name, id)
}

func (s *Credentials) Delete(ctx context.Context, id int64) error {
	return s.db.mutate(ctx, `delete from webauthn_credentials where id = ?`, id)
}

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		c          Credential
		credID     string
		counter    int64
		transports sql.NullString
		attType    sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &credID, &c.PublicKey, &counter, &transports, &c.Name, &attType,
		&c.AAGUID, &c.BackupEligible, &c.BackupState, timestamp{&c.CreatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(credID)
	if err != nil {
		return nil, fmt.Errorf("decoding credential id %d: %w", c.ID, err)
	}
	c.CredentialID = raw
	c.Counter = uint32(counter)
	c.AttestationType = attType.String
	if transports.Valid && transports.String != "" {
		if err := json.Unmarshal([]byte(transports.String), &c.Transports); err != nil {
			return nil, fmt.Errorf("decoding transports for credential %d: %w", c.ID, err)
		}
	}
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
