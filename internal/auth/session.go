package auth

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Session is the signed-in user as seen by the match, chat and profile
// services. It is passed explicitly into every operation; there is no
// process-wide current user.
type Session struct {
	UserID      uuid.UUID
	Email       string
	DisplayName string
	Token       string
}

// Anonymous is the zero session.
var Anonymous = Session{}

// SessionFromClaims builds the session for a validated token.
func SessionFromClaims(c *Claims, token string) Session {
	return Session{
		UserID:      c.UserID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Token:       token,
	}
}

func (s Session) Authenticated() bool {
	return s.UserID != uuid.Nil
}

// Name is the display name used when denormalizing the user into a row.
func (s Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Email
}

// HashPassword hashes with bcrypt.DefaultCost; bcrypt salts per call.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword is a constant-time comparison against a bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
