package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-characters!!"

func testCodec() *TokenCodec {
	return NewTokenCodec(testSecret, 15*time.Minute, 7*24*time.Hour)
}

func TestIssueAndDecodeAccessToken(t *testing.T) {
	t.Parallel()

	codec := testCodec()
	token, err := codec.IssueAccess(42)
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, TokenKindAccess, claims.TokenKind)
	assert.NotEmpty(t, claims.ID, "jti must be set")

	userID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

func TestIssueRefreshTokenKind(t *testing.T) {
	t.Parallel()

	codec := testCodec()
	token, err := codec.IssueRefresh(7)
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, TokenKindRefresh, claims.TokenKind)
}

func TestDecodeRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	codec := testCodec()
	token, err := codec.IssueAccess(1)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = codec.Decode(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := testCodec().IssueAccess(1)
	require.NoError(t, err)

	other := NewTokenCodec("another-secret-also-32-characters!!!", time.Minute, time.Hour)
	_, err = other.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec(testSecret, -time.Minute, -time.Minute)
	token, err := codec.IssueAccess(1)
	require.NoError(t, err)

	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := testCodec().Decode("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensCarryUniqueJTIs(t *testing.T) {
	t.Parallel()

	codec := testCodec()
	first, err := codec.IssueRefresh(9)
	require.NoError(t, err)
	second, err := codec.IssueRefresh(9)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	c1, err := codec.Decode(first)
	require.NoError(t, err)
	c2, err := codec.Decode(second)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)
}
