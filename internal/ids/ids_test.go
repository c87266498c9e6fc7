package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndParsable(t *testing.T) {
	before := time.Now().Add(-time.Second)
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if a > b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
	parsed, err := ulid.ParseStrict(a)
	if err != nil {
		t.Fatalf("ParseStrict: %v", err)
	}
	if ulid.Time(parsed.Time()).Before(before) {
		t.Fatalf("unexpected timestamp %v", ulid.Time(parsed.Time()))
	}
}
