package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pagat.app/internal/obs"
	"pagat.app/internal/store"
)

type memStore struct {
	entries []store.AuditEntry
	fail    error
	lastQ   store.AuditFilter
}

func (m *memStore) Append(_ context.Context, e *store.AuditEntry) error {
	if m.fail != nil {
		return m.fail
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) Query(_ context.Context, f store.AuditFilter) ([]store.AuditEntry, error) {
	m.lastQ = f
	return m.entries, nil
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	t.Cleanup(restore)
	return &buf
}

func TestRecordWritesEntryAndLogLine(t *testing.T) {
	buf := captureLog(t)
	ms := &memStore{}
	rec := NewRecorder(ms)

	ctx := WithRequestID(context.Background(), "req-123")
	rec.Record(ctx, Entry{Entity: "user", EntityID: "7", Action: "approve", Username: "admin", Info: "Approved alice"})

	if len(ms.entries) != 1 || ms.entries[0].Username != "admin" || ms.entries[0].EntityID != "7" {
		t.Fatalf("unexpected entries %+v", ms.entries)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "user/approve" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
}

func TestRecordWithoutUsernameIsNoop(t *testing.T) {
	captureLog(t)
	ms := &memStore{}
	NewRecorder(ms).Record(context.Background(), Entry{Entity: "auth", Action: "login", Username: "  "})
	if len(ms.entries) != 0 {
		t.Fatalf("expected no entries, got %+v", ms.entries)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)
	obs.Init()
	before := testutil.ToFloat64(obs.AuditFailureCounter())

	rec := NewRecorder(&memStore{fail: errors.New("disk full")})
	rec.Record(context.Background(), Entry{Entity: "auth", Action: "login", Username: "alice"})

	if !strings.Contains(buf.String(), "audit write failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
	if got := testutil.ToFloat64(obs.AuditFailureCounter()); got != before+1 {
		t.Fatalf("expected failure counter to increase, got %v (before %v)", got, before)
	}
}

func TestQueryTrimsFilter(t *testing.T) {
	ms := &memStore{}
	if _, err := NewRecorder(ms).Query(context.Background(), Filter{Username: " Alice ", Search: " login "}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ms.lastQ.Username != "Alice" || ms.lastQ.Search != "login" {
		t.Fatalf("filter not trimmed: %+v", ms.lastQ)
	}
}

func TestRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
