package shared

import "testing"

func TestGenerateID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateID()
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateState(t *testing.T) {
	first, err := GenerateState()
	if err != nil {
		t.Fatalf("failed to generate state: %v", err)
	}
	if len(first) < 32 {
		t.Errorf("state token too short: %d chars", len(first))
	}

	second, err := GenerateState()
	if err != nil {
		t.Fatalf("failed to generate state: %v", err)
	}
	if first == second {
		t.Error("consecutive state tokens should differ")
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("expected logger to be created")
	}
}
