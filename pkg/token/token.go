// Package token defines the session token an authenticated wire
// connection holds. Signing and transport-level token crates are
// external collaborators; the store only needs identity and expiry.
package token

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rqure/qcore/pkg/qstore/ids"
)

// ErrExpiredToken reports a payload past its expiry.
var ErrExpiredToken = errors.New("token has expired")

// Payload identifies an authenticated subject for the lifetime of a
// session.
type Payload struct {
	ID        uuid.UUID    `json:"id"`
	SubjectID ids.EntityId `json:"subject_id"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiredAt time.Time    `json:"expired_at"`
}

// NewPayload mints a payload for subject valid for ttl.
func NewPayload(subject ids.EntityId, ttl time.Duration) Payload {
	now := time.Now()
	return Payload{
		ID:        uuid.New(),
		SubjectID: subject,
		IssuedAt:  now,
		ExpiredAt: now.Add(ttl),
	}
}

// Valid reports whether the payload is still usable.
func (p Payload) Valid() error {
	if time.Now().After(p.ExpiredAt) {
		return ErrExpiredToken
	}
	return nil
}
