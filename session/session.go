// Package session describes the identity a desk runs under. A Session is
// passed explicitly to every component that needs it; nothing reads
// identity from ambient state.
package session

import (
	"errors"
	"fmt"

	"casedesk/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNotProfessional = errors.New("session: token does not belong to a professional")

// Session is one signed-in identity. Key is unique per session and scopes
// anything the session stores outside the process.
type Session struct {
	Key             string
	ProfessionalID  int64
	Token           string
	Specializations []string
}

// New builds a session with a fresh key.
func New(professionalID int64, token string, specializations []string) Session {
	return Session{
		Key:             uuid.NewString(),
		ProfessionalID:  professionalID,
		Token:           token,
		Specializations: specializations,
	}
}

// FromToken reads the identity claims of a token without verifying its
// signature; the server verifies it on every call. Only professional tokens
// are accepted.
func FromToken(token string) (Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("session: parse token: %w", err)
	}
	id, err := auth.IdentityFromClaims(claims)
	if err != nil {
		return Session{}, fmt.Errorf("session: %w", err)
	}
	if id.Role != auth.RoleProfessional {
		return Session{}, ErrNotProfessional
	}
	return New(id.UserID, token, id.Specializations), nil
}

// Valid reports whether the session carries an identity.
func (s Session) Valid() bool {
	return s.ProfessionalID > 0 && s.Key != ""
}
