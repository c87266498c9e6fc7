package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Users accesses the users table.
type Users struct{ db *DB }

func (d *DB) Users() *Users { return &Users{db: d} }

const userColumns = `id, username, password, approved, provider, display_name, role, created_at, updated_at, created_ip, last_login_ip`

// FindByUsername looks a user up ignoring case.
func (s *Users) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.queryRow(ctx, `select `+userColumns+` from users where lower(username) = lower(?)`, username)
	return scanUser(row)
}

func (s *Users) FindByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.queryRow(ctx, `select `+userColumns+` from users where id = ?`, id)
	return scanUser(row)
}

// Create inserts u and fills in its id. A case-insensitive username
// collision returns ErrConflict.
func (s *Users) Create(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	if u.Provider == "" {
		u.Provider = ProviderLocal
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	err := s.db.queryRow(ctx, `
		insert into users(username, password, approved, provider, display_name, role, created_at, updated_at, created_ip, last_login_ip)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		returning id`,
		u.Username, nullable(u.PasswordHash), u.Approved, u.Provider, nullable(u.DisplayName), u.Role,
		u.CreatedAt, u.UpdatedAt, nullable(u.CreatedIP), nullable(u.LastLoginIP),
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("inserting user %q: %w", u.Username, translate(err))
	}
	return nil
}

func (s *Users) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.db.mutate(ctx, `update users set password = ?, updated_at = ? where id = ?`, hash, time.Now().UTC(), id)
}

func (s *Users) UpdateApproval(ctx context.Context, id int64, approved int) error {
	return s.db.mutate(ctx, `update users set approved = ?, updated_at = ? where id = ?`, approved, time.Now().UTC(), id)
}

func (s *Users) UpdateRole(ctx context.Context, id int64, role string) error {
	return s.db.mutate(ctx, `update users set role = ?, updated_at = ? where id = ?`, role, time.Now().UTC(), id)
}

// UpdateLoginMetadata records the login source. created_ip is only filled
// when it was never set.
func (s *Users) UpdateLoginMetadata(ctx context.Context, id int64, ip string, at time.Time) error {
	return s.db.mutate(ctx, `
		update users
		set last_login_ip = ?, updated_at = ?, created_ip = coalesce(created_ip, ?)
		where id = ?`,
		nullable(ip), at.UTC(), nullable(ip), id)
}

// Delete removes the user; credentials go with it through the foreign key.
func (s *Users) Delete(ctx context.Context, id int64) error {
	return s.db.mutate(ctx, `delete from users where id = ?`, id)
}

// List returns users filtered by status: pending, approved, rejected or all.
func (s *Users) List(ctx context.Context, status string) ([]User, error) {
	query := `select ` + userColumns + ` from users`
	var args []any
	switch status {
	case "", "all":
	case "pending":
		query += ` where approved = ?`
		args = append(args, Pending)
	case "approved":
		query += ` where approved = ?`
		args = append(args, Approved)
	case "rejected":
		query += ` where approved = ?`
		args = append(args, Rejected)
	default:
		return nil, fmt.Errorf("unknown user status %q", status)
	}
	query += ` order by created_at desc, id desc`

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

func (s *Users) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var password, display, createdIP, lastIP sql.NullString
	err := row.Scan(&u.ID, &u.Username, &password, &u.Approved, &u.Provider, &display, &u.Role,
		timestamp{&u.CreatedAt}, timestamp{&u.UpdatedAt}, &createdIP, &lastIP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = password.String
	u.DisplayName = display.String
	u.CreatedIP = createdIP.String
	u.LastLoginIP = lastIP.String
	return &u, nil
}
