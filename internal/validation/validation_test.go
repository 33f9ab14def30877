package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	valid := []string{"abc", "user_name", "User-123", strings.Repeat("a", 30)}
	for _, u := range valid {
		assert.NoError(t, ValidateUsername(u), "username %q", u)
	}

	invalid := []string{
		"",
		"ab",
		strings.Repeat("a", 31),
		"has space",
		"ümlaut",
		"dot.name",
		"search", // reserved: shadows /users/search
		"me",
	}
	for _, u := range invalid {
		assert.Error(t, ValidateUsername(u), "username %q", u)
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateEmail("user@example.com"))
	assert.NoError(t, ValidateEmail("first.last+tag@sub.example.org"))

	invalid := []string{"", "plain", "no@tld", "two@@example.com", "spaces in@example.com"}
	for _, e := range invalid {
		assert.Error(t, ValidateEmail(e), "email %q", e)
	}
}

func TestValidatePassword(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidatePassword("12345678"))
	assert.NoError(t, ValidatePassword(strings.Repeat("x", 128)))

	assert.Error(t, ValidatePassword(""))
	assert.Error(t, ValidatePassword("short"))
	assert.Error(t, ValidatePassword(strings.Repeat("x", 129)))
}

func TestValidateComment(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateComment("nice shot"))
	assert.Error(t, ValidateComment(""))
	assert.Error(t, ValidateComment(strings.Repeat("x", CommentMaxLength+1)))
}

func TestValidateCaption(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateCaption(""))
	assert.NoError(t, ValidateCaption("a caption"))
	assert.Error(t, ValidateCaption(strings.Repeat("x", CaptionMaxLength+1)))
}

func TestValidateProfile(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateProfile("Name", "Bio"))
	assert.Error(t, ValidateProfile(strings.Repeat("n", NameMaxLength+1), ""))
	assert.Error(t, ValidateProfile("", strings.Repeat("b", BioMaxLength+1)))
}
