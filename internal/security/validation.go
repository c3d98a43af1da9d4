package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation errors
var (
	ErrInvalidInput      = errors.New("security: invalid input")
	ErrInputTooLong      = errors.New("security: input exceeds maximum length")
	ErrInputTooShort     = errors.New("security: input below minimum length")
	ErrNullByte          = errors.New("security: null byte in input")
	ErrInvalidUTF8       = errors.New("security: invalid UTF-8 encoding")
	ErrControlCharacters = errors.New("security: control characters in input")
	ErrInvalidCharacters = errors.New("security: disallowed characters in input")
)

const (
	// MinUsernameLength is the shortest acceptable username.
	MinUsernameLength = 3
	// MaxUsernameLength is the longest acceptable username.
	MaxUsernameLength = 64
	// MinPasswordLength is the shortest acceptable password.
	MinPasswordLength = 8
	// MaxPasswordLength bounds password size before hashing.
	MaxPasswordLength = 1024
)

// ValidateUsername checks a username for length and character constraints.
// Usernames are limited to letters, digits, and the separators . _ -
// and must start with a letter or digit.
func ValidateUsername(name string) error {
	if name == "" {
		return ErrInvalidInput
	}
	if strings.Contains(name, "\x00") {
		return ErrNullByte
	}
	if !utf8.ValidString(name) {
		return ErrInvalidUTF8
	}
	if len(name) < MinUsernameLength {
		return fmt.Errorf("%w: length %d below minimum %d", ErrInputTooShort, len(name), MinUsernameLength)
	}
	if len(name) > MaxUsernameLength {
		return fmt.Errorf("%w: length %d exceeds maximum %d", ErrInputTooLong, len(name), MaxUsernameLength)
	}

	for i, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		case r == '.' || r == '_' || r == '-':
			if i == 0 {
				return fmt.Errorf("%w: separator %q at start", ErrInvalidCharacters, r)
			}
		default:
			return fmt.Errorf("%w: %q", ErrInvalidCharacters, r)
		}
	}
	return nil
}

// ValidatePassword checks password length bounds and byte sanity. It
// imposes no composition rules; the behavioural check supplies the
// second factor.
func ValidatePassword(password string) error {
	if strings.Contains(password, "\x00") {
		return ErrNullByte
	}
	if !utf8.ValidString(password) {
		return ErrInvalidUTF8
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: length %d below minimum %d", ErrInputTooShort, len(password), MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: length %d exceeds maximum %d", ErrInputTooLong, len(password), MaxPasswordLength)
	}
	for _, r := range password {
		if unicode.IsControl(r) && r != '\t' {
			return ErrControlCharacters
		}
	}
	return nil
}
