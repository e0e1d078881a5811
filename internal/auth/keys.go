// Package auth implements API-key authentication for the agent control
// plane: constant-time key comparison, role-scoped authorization, and
// handshake key extraction (§4.2).
package auth

import "crypto/subtle"

// MetadataKey is a credential entry that restricts which roles it may
// register as. An empty AllowedRoles means the key authorizes any role.
type MetadataKey struct {
	Key          string   `json:"key"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	KeyID        string   `json:"key_id"` // safe to log; the raw Key never is (A2)
}

// Credentials holds the two credential representations the design allows to
// coexist: a flat list of legacy keys (no role restriction) and a metadata
// list with per-key role scoping.
type Credentials struct {
	Legacy   []string
	Metadata []MetadataKey
}

// constantTimeEqual compares two strings in time independent of where they
// first differ (P1). Keys of differing length are never equal, but the
// inequality is detected without leaking position: ConstantTimeCompare
// itself runs over the full length of both slices whenever the lengths
// match, and the length check is over public (non-secret) lengths only.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate reports whether key matches any configured credential
// (legacy or metadata), using constant-time comparison against every
// candidate so that timing does not reveal which key (if any) matched
// first — every legacy key and every metadata key is always compared in
// full regardless of earlier hits.
func (c *Credentials) Authenticate(key string) bool {
	if key == "" {
		return false
	}
	matched := false
	for _, legacy := range c.Legacy {
		if constantTimeEqual(key, legacy) {
			matched = true
		}
	}
	for _, meta := range c.Metadata {
		if constantTimeEqual(key, meta.Key) {
			matched = true
		}
	}
	return matched
}

// IsRoleAuthorized reports whether apiKey is allowed to register as role
// (P7). It returns true iff:
//
//   - apiKey matches a metadata entry whose AllowedRoles is empty (allows
//     any role) or contains role, or
//   - apiKey matches a legacy entry (legacy keys are unrestricted).
//
// Unknown keys never authorize, for any role.
func (c *Credentials) IsRoleAuthorized(apiKey, role string) bool {
	if apiKey == "" {
		return false
	}

	authorized := false
	for _, meta := range c.Metadata {
		if !constantTimeEqual(apiKey, meta.Key) {
			continue
		}
		if len(meta.AllowedRoles) == 0 {
			authorized = true
			continue
		}
		for _, r := range meta.AllowedRoles {
			if r == role {
				authorized = true
			}
		}
	}
	for _, legacy := range c.Legacy {
		if constantTimeEqual(apiKey, legacy) {
			authorized = true
		}
	}
	return authorized
}

// KeyID returns the logged-safe identifier for apiKey, for use in log lines
// per A2 — raw key material must never be logged. Returns "" if the key is
// unknown or carries no KeyID.
func (c *Credentials) KeyID(apiKey string) string {
	for _, meta := range c.Metadata {
		if constantTimeEqual(apiKey, meta.Key) {
			return meta.KeyID
		}
	}
	return ""
}
