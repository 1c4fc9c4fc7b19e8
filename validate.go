package identity

import (
	"regexp"
	"strings"
	"unicode"
)

// RFC 5321 length ceilings: whole address and local part.
const (
	maxEmailLength = 254
	maxLocalLength = 64
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// normalizeEmail trims and lowercases. Every lookup and every write uses
// the normalized form, so case variants collapse to one account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "must not be empty"}
	}
	if len(email) > maxEmailLength {
		return &ValidationError{Field: "email", Message: "too long"}
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at > maxLocalLength {
		return &ValidationError{Field: "email", Message: "invalid address"}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Message: "invalid address"}
	}
	return nil
}

// validatePassword enforces the strength policy: configured minimum
// length, all four character classes, and the deny-list.
func (s *Service) validatePassword(plain string) error {
	if len(plain) < s.config.Password.MinLength {
		return &ValidationError{Field: "password", Message: "too short"}
	}

	var upper, lower, digit, symbol bool
	for _, r := range plain {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return &ValidationError{
			Field:   "password",
			Message: "must contain uppercase, lowercase, digit, and symbol characters",
		}
	}

	lowered := strings.ToLower(plain)
	for _, banned := range s.config.Password.DenyList {
		if strings.Contains(lowered, banned) {
			return &ValidationError{Field: "password", Message: "too common"}
		}
	}
	return nil
}

func validateRole(role Role) error {
	if !role.Valid() {
		return &ValidationError{Field: "role", Message: "unknown role"}
	}
	return nil
}
