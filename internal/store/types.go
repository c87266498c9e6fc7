package store

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Approval states stored in users.approved.
const (
	Rejected = -1
	Pending  = 0
	Approved = 1
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User is a row of the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Approved     int
	Provider     string
	DisplayName  string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CreatedIP    string
	LastLoginIP  string
}

// Credential is an enrolled WebAuthn authenticator.
type Credential struct {
	ID              int64
	UserID          int64
	CredentialID    []byte
	PublicKey       []byte
	Counter         uint32
	Transports      []string
	Name            string
	AttestationType string
	AAGUID          []byte
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
}

// AuditEntry is an append-only audit row.
type AuditEntry struct {
	ID       int64     `json:"id"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id,omitempty"`
	Action   string    `json:"action"`
	Username string    `json:"username"`
	Info     string    `json:"info,omitempty"`
	TS       time.Time `json:"ts"`
}

// AuditFilter narrows an audit query. Empty fields match everything.
type AuditFilter struct {
	Entity   string
	Action   string
	Username string
	Search   string
	Limit    int
}

// timestamp scans values produced by either driver. SQLite may hand back
// text depending on how the row was written.
type timestamp struct{ t *time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.t = time.Time{}
		return nil
	case time.Time:
		*ts.t = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("store: cannot scan %T into time", src)
	}
}

func (ts timestamp) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("store: unrecognised time %q", s)
}

// nullable stores empty strings as NULL.
func nullable(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}
