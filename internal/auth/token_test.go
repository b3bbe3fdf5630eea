package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("test-secret-at-least-32-chars-long!!", time.Hour)
	userID := uuid.New()

	tests := []struct {
		name        string
		token       func(t *testing.T) string
		parser      *TokenIssuer
		expectedErr error
	}{
		{
			name: "success",
			token: func(t *testing.T) string {
				s, _, err := issuer.Issue(userID, "organizer")
				require.NoError(t, err)
				return s
			},
			parser: issuer,
		},
		{
			name: "expired token",
			token: func(t *testing.T) string {
				s, _, err := NewTokenIssuer("test-secret-at-least-32-chars-long!!", -time.Minute).Issue(userID, "player")
				require.NoError(t, err)
				return s
			},
			parser:      issuer,
			expectedErr: ErrExpiredToken,
		},
		{
			name: "invalid signature",
			token: func(t *testing.T) string {
				s, _, err := issuer.Issue(userID, "player")
				require.NoError(t, err)
				return s
			},
			parser:      NewTokenIssuer("some-other-secret", time.Hour),
			expectedErr: ErrInvalidSignature,
		},
		{
			name:        "malformed token",
			token:       func(t *testing.T) string { return "not.a.jwt" },
			parser:      issuer,
			expectedErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tt.parser.Parse(tt.token(t))
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			got, err := claims.UserID()
			require.NoError(t, err)
			assert.Equal(t, userID, got)
			assert.Equal(t, "organizer", claims.Role)
		})
	}
}

func TestIssueReturnsExpiry(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	issuer := NewTokenIssuer("secret", 2*time.Hour)
	issuer.now = func() time.Time { return fixed }

	_, expires, err := issuer.Issue(uuid.New(), "player")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(2*time.Hour), expires)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "Tr0ub4dor&3"))
}
