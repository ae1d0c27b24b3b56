package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	gen := UUIDv7()
	id := gen()
	// UUID format: 8-4-4-4-12
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("aud_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "aud_") {
		t.Fatalf("Prefixed: expected prefix 'aud_', got %q", id)
	}
	if len(id) != len("aud_")+36 {
		t.Fatalf("Prefixed: expected length %d, got %d", len("aud_")+36, len(id))
	}
}

func TestDefault_IsUUIDv7(t *testing.T) {
	id := Default()
	if len(id) != 36 {
		t.Fatalf("Default (UUIDv7): expected length 36, got %d for %q", len(id), id)
	}
	if len(strings.Split(id, "-")) != 5 {
		t.Fatalf("Default (UUIDv7): expected 5 dash-separated parts, got %q", id)
	}
}
