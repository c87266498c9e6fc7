package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Sessions accesses the http_sessions table.
type Sessions struct{ db *DB }

func (d *DB) Sessions() *Sessions { return &Sessions{db: d} }

// Get returns the payload of an unexpired session.
func (s *Sessions) Get(ctx context.Context, id string, now time.Time) (string, error) {
	var data string
	err := s.db.queryRow(ctx, `select data from http_sessions where id = ? and expires_at > ?`, id, now.UTC()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", translate(err)
	}
	return data, nil
}

func (s *Sessions) Put(ctx context.Context, id, data string, expiresAt time.Time) error {
	_, err := s.db.exec(ctx, `
		insert into http_sessions(id, data, expires_at) values (?, ?, ?)
		on conflict (id) do update set data = excluded.data, expires_at = excluded.expires_at`,
		id, data, expiresAt.UTC())
	return err
}

func (s *Sessions) Delete(ctx context.Context, id string) error {
	_, err := s.db.exec(ctx, `delete from http_sessions where id = ?`, id)
	return err
}

// DeleteExpired purges sessions that expired before now.
func (s *Sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.exec(ctx, `delete from http_sessions where expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
