// Package validation holds input validation rules for user-supplied fields.
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	PasswordMinLength = 8
	PasswordMaxLength = 128
	CaptionMaxLength  = 2200
	CommentMaxLength  = 2200
	NameMaxLength     = 80
	BioMaxLength      = 500
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Routable segments under /users that a username must never shadow.
var reservedUsernames = map[string]struct{}{
	"search":  {},
	"me":      {},
	"admin":   {},
	"auth":    {},
	"posts":   {},
	"feed":    {},
	"metrics": {},
	"health":  {},
	"healthz": {},
}

// ValidateUsername validates username format and reserved names.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username must be 3-30 characters and contain only letters, numbers, underscores, and hyphens")
	}
	if _, exists := reservedUsernames[username]; exists {
		return fmt.Errorf("username is reserved")
	}
	return nil
}

// ValidateEmail checks the address has a plausible mailbox@domain.tld shape.
// Deliverability is not checked here.
func ValidateEmail(email string) error {
	if len(email) > 255 || !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidatePassword enforces the password length policy. Composition rules are
// deliberately not enforced; length is the primary strength signal.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", PasswordMinLength)
	}
	if n > PasswordMaxLength {
		return fmt.Errorf("password must be at most %d characters", PasswordMaxLength)
	}
	return nil
}

// ValidateCaption bounds post caption length.
func ValidateCaption(caption string) error {
	if utf8.RuneCountInString(caption) > CaptionMaxLength {
		return fmt.Errorf("caption must be at most %d characters", CaptionMaxLength)
	}
	return nil
}

// ValidateComment requires non-empty bounded comment text.
func ValidateComment(text string) error {
	if text == "" {
		return fmt.Errorf("comment text is required")
	}
	if utf8.RuneCountInString(text) > CommentMaxLength {
		return fmt.Errorf("comment must be at most %d characters", CommentMaxLength)
	}
	return nil
}

// ValidateProfile bounds the free-form profile fields.
func ValidateProfile(name, bio string) error {
	if utf8.RuneCountInString(name) > NameMaxLength {
		return fmt.Errorf("name must be at most %d characters", NameMaxLength)
	}
	if utf8.RuneCountInString(bio) > BioMaxLength {
		return fmt.Errorf("bio must be at most %d characters", BioMaxLength)
	}
	return nil
}
