package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if err := VerifyPassword("correct horse battery staple", hash); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hash, err := HashPassword("right-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword("wrong-password", hash); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("want ErrHashMismatch, got %v", err)
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{"empty", "", ErrMalformedHash},
		{"not enough parts", "$argon2id$v=19$m=65536,t=1,p=4", ErrMalformedHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", ErrUnsupportedAlg},
		{"bad version", "$argon2id$v=7$m=65536,t=1,p=4$c2FsdA$aGFzaA", ErrUnsupportedAlg},
		{"bad salt", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA", ErrMalformedHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyPassword("anything", tt.encoded); !errors.Is(err, tt.wantErr) {
				t.Errorf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with separators", "alice.b_c-d", nil},
		{"empty", "", ErrInvalidInput},
		{"too short", "ab", ErrInputTooShort},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrInputTooLong},
		{"null byte", "ali\x00ce", ErrNullByte},
		{"invalid utf-8", "ali\xffce", ErrInvalidUTF8},
		{"leading separator", "-alice", ErrInvalidCharacters},
		{"space", "alice smith", ErrInvalidCharacters},
		{"slash", "alice/admin", ErrInvalidCharacters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "hunter22 is fine", nil},
		{"too short", "short", ErrInputTooShort},
		{"too long", strings.Repeat("x", MaxPasswordLength+1), ErrInputTooLong},
		{"null byte", "passw\x00rdpass", ErrNullByte},
		{"control character", "password\x01pad", ErrControlCharacters},
		{"tab allowed", "pass\tword22", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoginLimiterBurstAndRefill(t *testing.T) {
	l := NewLoginLimiter(60, 3) // 1 token/sec, burst 3
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.allowAt("alice", now) {
			t.Fatalf("attempt %d within burst denied", i+1)
		}
	}
	if l.allowAt("alice", now) {
		t.Fatal("attempt beyond burst allowed")
	}

	// A different username has its own bucket.
	if !l.allowAt("bob", now) {
		t.Fatal("independent username denied")
	}

	// One second refills one token.
	if !l.allowAt("alice", now.Add(time.Second)) {
		t.Fatal("attempt after refill denied")
	}
	if l.allowAt("alice", now.Add(time.Second)) {
		t.Fatal("second attempt after single refill allowed")
	}
}

func TestLoginLimiterPrune(t *testing.T) {
	l := NewLoginLimiter(60, 3)
	l.Allow("stale")
	l.buckets["stale"].lastRefill = time.Now().Add(-time.Hour)

	l.Prune(10 * time.Minute)
	if _, ok := l.buckets["stale"]; ok {
		t.Fatal("stale bucket not pruned")
	}
}
