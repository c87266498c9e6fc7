package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier used to correlate
// requests across log lines.
func New() string {
	return ulid.Make().String()
}
