package idempotency

import (
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"client token", "client-batch-001", nil},
		{"uuid key", "550e8400-e29b-41d4-a716-446655440000", nil},
		{"at max length", strings.Repeat("k", MaxKeyLength), nil},
		{"over max length", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); err != tt.wantErr {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestComputeResponseHash(t *testing.T) {
	const body = `{"accepted":3,"rejected":0}`

	hash := ComputeResponseHash(body)
	if len(hash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hash))
	}
	if again := ComputeResponseHash(body); again != hash {
		t.Errorf("hash not deterministic: %s != %s", hash, again)
	}
	if empty := ComputeResponseHash(""); empty == hash {
		t.Error("empty body must not hash equal to a non-empty body")
	}
}

func TestComputeResponseHash_DistinctBodies(t *testing.T) {
	h1 := ComputeResponseHash(`{"accepted":1,"rejected":0}`)
	h2 := ComputeResponseHash(`{"accepted":2,"rejected":0}`)

	if h1 == h2 {
		t.Error("different responses must produce different hashes")
	}
}
