package auth

import (
	"net/http"
	"strings"
)

// ExtractCandidateKey pulls a candidate API key out of an incoming
// handshake request, trying in order: the `token` query parameter, the
// `X-API-Key` header, then an `Authorization: Bearer <token>` header. The
// first present source wins; any others are ignored. Returns "" if none
// are present.
//
// ServeHTTP always hands this a *http.Request that net/http has already
// parsed, so r.URL.Query() is already decoded — no hand-rolled raw-query
// decoder is needed (§9).
func ExtractCandidateKey(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix)
		}
	}
	return ""
}
