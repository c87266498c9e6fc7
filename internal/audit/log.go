// Package audit records identity and security relevant actions.
package audit

import (
	"context"
	"log/slog"
	"strings"

	"pagat.app/internal/obs"
	"pagat.app/internal/store"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is a single audit event. Username is the acting user.
type Entry struct {
	Entity   string
	EntityID string
	Action   string
	Username string
	Info     string
}

// Store is the persistence the recorder needs.
type Store interface {
	Append(ctx context.Context, e *store.AuditEntry) error
	Query(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error)
}

// Recorder appends audit entries. Writes are best effort: failures are logged
// and counted but never returned to the caller.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(s Store) *Recorder {
	return &Recorder{store: s, logger: obs.Component("audit")}
}

// Record appends e. Entries without an acting username are dropped.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || strings.TrimSpace(e.Username) == "" {
		return
	}
	row := &store.AuditEntry{
		Entity:   e.Entity,
		EntityID: e.EntityID,
		Action:   e.Action,
		Username: e.Username,
		Info:     e.Info,
	}
	rid := RequestIDFromContext(ctx)
	if err := r.store.Append(ctx, row); err != nil {
		obs.AuditWriteFailed()
		r.logger.Error("audit write failed",
			"request_id", rid,
			"event", e.Entity+"/"+e.Action,
			"username", e.Username,
			"error", err)
		return
	}
	r.logger.Info("audit",
		"type", "audit",
		"event", e.Entity+"/"+e.Action,
		"request_id", rid,
		"username", e.Username,
		"entity_id", e.EntityID,
		"info", e.Info)
}

// Filter narrows Query results. Limit defaults to 200 and is capped at 1000.
type Filter = store.AuditFilter

// Query returns matching entries newest first.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]store.AuditEntry, error) {
	f.Entity = strings.TrimSpace(f.Entity)
	f.Action = strings.TrimSpace(f.Action)
	f.Username = strings.TrimSpace(f.Username)
	f.Search = strings.TrimSpace(f.Search)
	return r.store.Query(ctx, f)
}
