package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	if !strings.HasPrefix(id, "job-") {
		t.Errorf("expected ID to start with 'job-', got %s", id)
	}
	if !Valid(id) {
		t.Errorf("expected %s to be valid", id)
	}

	id2 := Generate()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	for _, s := range []string{"", "job-", "job-123", "3f1c2b9e-8a7d-4c61-9a55-0f7e2b1d4c3a", "task-3f1c2b9e-8a7d-4c61-9a55-0f7e2b1d4c3a"} {
		if Valid(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
