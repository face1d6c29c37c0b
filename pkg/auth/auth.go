// Package auth gates management and tool-call operations behind bearer
// tokens. Token comparison is constant-time.
package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized indicates the presented credential does not permit the
// requested operation.
var ErrUnauthorized = errors.New("unauthorized")

// Credential is the bearer token presented by a caller. Empty means the
// caller presented nothing.
type Credential string

// Op classifies an operation for authorization purposes.
type Op int

const (
	// OpRead covers listing tools, calling tools, and inspecting status.
	OpRead Op = iota
	// OpWrite covers mutations: add/remove/enable/disable backends, kits,
	// and reloads.
	OpWrite
)

// Verifier decides whether a credential permits an operation.
type Verifier interface {
	Check(cred Credential, op Op) error
}

// Open is a verifier that admits every request. Used when the gateway runs
// without tokens configured; choosing it must be explicit.
type Open struct{}

func (Open) Check(Credential, Op) error { return nil }

// StaticToken verifies against fixed tokens. Token grants full access;
// ReadOnlyToken, when set, grants OpRead only.
type StaticToken struct {
	Token         string
	ReadOnlyToken string
}

// NewStaticToken creates a verifier for the given tokens. Returns an error
// if no full-access token is set, so an accidentally empty token can never
// silently disable the gate.
func NewStaticToken(token, readOnlyToken string) (*StaticToken, error) {
	if token == "" {
		return nil, errors.New("auth token must not be empty")
	}
	return &StaticToken{Token: token, ReadOnlyToken: readOnlyToken}, nil
}

func (s *StaticToken) Check(cred Credential, op Op) error {
	if tokenEqual(string(cred), s.Token) {
		return nil
	}
	if s.ReadOnlyToken != "" && tokenEqual(string(cred), s.ReadOnlyToken) {
		if op == OpRead {
			return nil
		}
		return ErrUnauthorized
	}
	return ErrUnauthorized
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var (
	_ Verifier = Open{}
	_ Verifier = (*StaticToken)(nil)
)
