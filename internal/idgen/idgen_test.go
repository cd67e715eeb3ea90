package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("req_")
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("expected req_ prefix, got %q", id)
	}
	if len(id) != len("req_")+24 {
		t.Fatalf("expected 24 hex chars after prefix, got %q", id)
	}
	for _, c := range id[len("req_"):] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex char %q in %q", c, id)
		}
	}

	if WithPrefix("req_") == WithPrefix("req_") {
		t.Fatal("ids must not repeat")
	}
}
