package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAuditLimit = 200
	MaxAuditLimit     = 1000
)

// AuditLog accesses the audit_logs table. It has no update or delete path.
type AuditLog struct{ db *DB }

func (d *DB) AuditLog() *AuditLog { return &AuditLog{db: d} }

func (s *AuditLog) Append(ctx context.Context, e *AuditEntry) error {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	err := s.db.queryRow(ctx, `
		insert into audit_logs(entity, entity_id, action, username, info, ts)
		values (?, ?, ?, ?, ?, ?)
		returning id`,
		e.Entity, nullable(e.EntityID), e.Action, e.Username, nullable(e.Info), e.TS,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", translate(err))
	}
	return nil
}

// likeEscaper makes a search term match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Query returns matching entries newest first. Username matches ignore case
// and Search is a case-insensitive substring of info.
func (s *AuditLog) Query(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Entity != "" {
		where = append(where, "entity = ?")
		args = append(args, f.Entity)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.Username != "" {
		where = append(where, "lower(username) = lower(?)")
		args = append(args, f.Username)
	}
	if f.Search != "" {
		where = append(where, `lower(info) like ? escape '\'`)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(f.Search))+"%")
	}
	query := `select id, entity, entity_id, action, username, info, ts from audit_logs`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by id desc limit ?"
	args = append(args, ClampAuditLimit(f.Limit))

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []AuditEntry{}
	for rows.Next() {
		var (
			e              AuditEntry
			entityID, info sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Entity, &entityID, &e.Action, &e.Username, &info, timestamp{&e.TS}); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.Info = info.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// ClampAuditLimit applies the default and maximum page size.
func ClampAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultAuditLimit
	case limit > MaxAuditLimit:
		return MaxAuditLimit
	default:
		return limit
	}
}
