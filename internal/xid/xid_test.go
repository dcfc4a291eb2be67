package xid

import (
	"strings"
	"testing"
)

func TestNewCarriesPrefixAndIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := New("bol")
		if !strings.HasPrefix(id, "bol-") {
			t.Fatalf("expected bol- prefix, got %s", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}
