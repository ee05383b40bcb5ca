package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("Passw0rd1")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.True(t, h.Verify("Passw0rd1", hash))
	assert.False(t, h.Verify("Passw0rd2", hash))
}

func TestPasswordHasher_SaltsEachHash(t *testing.T) {
	h := newTestHasher(t)

	a, err := h.Hash("Passw0rd1")
	require.NoError(t, err)
	b, err := h.Hash("Passw0rd1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestPasswordHasher_LongPasswordsStaySignificant(t *testing.T) {
	h := newTestHasher(t)
	base := "A1" + strings.Repeat("a", 100)

	hash, err := h.Hash(base + "x")
	require.NoError(t, err)

	assert.True(t, h.Verify(base+"x", hash))
	assert.False(t, h.Verify(base+"y", hash), "bytes past 72 must still matter")
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	h := newTestHasher(t)
	assert.False(t, h.Verify("Passw0rd1", "not-a-bcrypt-hash"))
	assert.False(t, h.Verify("Passw0rd1", ""))
}

func TestPasswordHasher_DefaultCost(t *testing.T) {
	h, err := NewPasswordHasher(DefaultBcryptCost)
	require.NoError(t, err)

	hash, err := h.Hash("Passw0rd1")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, 12, cost)
}

func TestNewPasswordHasher_RejectsBadCost(t *testing.T) {
	_, err := NewPasswordHasher(2)
	assert.Error(t, err)
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     error
	}{
		{"valid", "Passw0rd1", nil},
		{"exactly eight", "Abcdef12", nil},
		{"too short", "Ab1", ErrPasswordTooShort},
		{"too long", "Ab1" + strings.Repeat("x", 126), ErrPasswordTooLong},
		{"max length", "Ab1" + strings.Repeat("x", 125), nil},
		{"no uppercase", "passw0rd1", ErrPasswordNoUppercase},
		{"no lowercase", "PASSW0RD1", ErrPasswordNoLowercase},
		{"no digit", "Password", ErrPasswordNoDigit},
		{"runes not bytes", "Ab1ééééé", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tt.password)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsWeakPassword(err))
		})
	}
}
