// Package auth resolves bearer tokens for the bridge HTTP surface.
//
// The bridge exposes two resources, each readable (:ro) or writable (:rw):
//
//   - bridge: session state, commands, lifecycle transitions, external
//     notifications and WebSocket attachment
//   - events: the activity feed
//
// Write access implies read access on the same resource. The configured
// api_key carries "*", which passes every check. Scoped tokens carry only
// what they list.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const (
	ScopeAll      = "*"
	ScopeBridgeRO = "bridge:ro"
	ScopeBridgeRW = "bridge:rw"
	ScopeEventsRO = "events:ro"
	ScopeEventsRW = "events:rw"
)

// implied maps a granted scope to the scopes it also confers.
var implied = map[string][]string{
	ScopeAll:      nil,
	ScopeBridgeRO: nil,
	ScopeBridgeRW: {ScopeBridgeRO},
	ScopeEventsRO: nil,
	ScopeEventsRW: {ScopeEventsRO},
}

var (
	ErrMissingHeader = errors.New("missing Authorization header")
	ErrBadScheme     = errors.New("invalid Authorization header format")
	ErrEmptyToken    = errors.New("missing API key")
)

// Known reports whether scope belongs to the bridge policy.
func Known(scope string) bool {
	_, ok := implied[scope]
	return ok
}

// Scopes lists every scope of the policy, sorted.
func Scopes() []string {
	out := make([]string, 0, len(implied))
	for s := range implied {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller. Name identifies the credential in
// logs ("api_key" or "tokens[i]"); the token itself is never kept.
type Principal struct {
	Name   string
	Scopes map[string]struct{}
}

// Allows reports whether p holds scope, directly or through "*".
func (p Principal) Allows(scope string) bool {
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	_, ok := p.Scopes[scope]
	return ok
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken returns the token of a "Bearer <token>" header. The
// scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingHeader
	}
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func sameToken(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// Authenticate matches a presented token against the api_key and then the
// scoped tokens, in configuration order.
func Authenticate(presented string, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if sameToken(presented, apiKey) {
		return Principal{Name: "api_key", Scopes: grant([]string{ScopeAll})}, true
	}
	for i, t := range tokens {
		if sameToken(presented, t.Token) {
			return Principal{
				Name:   "tokens[" + strconv.Itoa(i) + "]",
				Scopes: grant(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

// grant expands configured scopes with the scopes they imply. Unknown
// scopes are kept as-is and imply nothing.
func grant(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		for _, extra := range implied[s] {
			out[extra] = struct{}{}
		}
	}
	return out
}

// HasAnyScope reports whether p may use a route accepting any of required.
// A route without requirements admits every authenticated principal.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, s := range required {
		if p.Allows(s) {
			return true
		}
	}
	return false
}
