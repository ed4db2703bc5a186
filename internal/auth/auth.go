// Package auth guards the two ways into the host. Admin API callers present a
// bearer token from a Keyring and are checked against scopes; plugins are
// checked against a Policy of endpoints they may call.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Admin API scopes.
const (
	ScopeAll       = "*"
	ScopePluginsRO = "plugins:ro"
	ScopePluginsRW = "plugins:rw"
	ScopeEventsRO  = "events:ro"
	ScopeEventsRW  = "events:rw"
)

// impliedBy maps a write scope to the read scope it carries.
var impliedBy = map[string]string{
	ScopePluginsRW: ScopePluginsRO,
	ScopeEventsRW:  ScopeEventsRO,
}

var (
	ErrNoCredentials  = errors.New("missing bearer token")
	ErrBadCredentials = errors.New("malformed Authorization header")
)

// KnownScope reports whether scope is checked by any admin route.
func KnownScope(scope string) bool {
	if scope == ScopeAll {
		return true
	}
	_, write := impliedBy[scope]
	return write || scope == ScopePluginsRO || scope == ScopeEventsRO
}

// Scopes is the set of admin scopes held by one caller.
type Scopes map[string]struct{}

// ParseScopes trims and deduplicates raw and adds implied read scopes.
func ParseScopes(raw []string) Scopes {
	s := make(Scopes, len(raw))
	for _, scope := range raw {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		s[scope] = struct{}{}
		if read, ok := impliedBy[scope]; ok {
			s[read] = struct{}{}
		}
	}
	return s
}

// Allows reports whether s holds "*" or any of required.
// An empty requirement always passes.
func (s Scopes) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := s[ScopeAll]; ok {
		return true
	}
	for _, r := range required {
		if _, ok := s[r]; ok {
			return true
		}
	}
	return false
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Principal is an authenticated admin caller. Name identifies which
// credential matched without exposing it.
type Principal struct {
	Name   string
	Scopes Scopes
}

type credential struct {
	secret    []byte
	principal Principal
}

// Keyring holds the admin credentials accepted by the API.
type Keyring struct {
	creds []credential
}

// NewKeyring builds a keyring from the legacy api_key, which grants every
// scope, and the scoped tokens. Empty secrets are skipped.
func NewKeyring(legacyKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if legacyKey != "" {
		k.creds = append(k.creds, credential{
			secret:    []byte(legacyKey),
			principal: Principal{Name: "api_key", Scopes: Scopes{ScopeAll: {}}},
		})
	}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.creds = append(k.creds, credential{
			secret:    []byte(t.Token),
			principal: Principal{Name: fmt.Sprintf("tokens[%d]", i), Scopes: ParseScopes(t.Scopes)},
		})
	}
	return k
}

// Empty reports whether the keyring accepts nothing.
func (k *Keyring) Empty() bool { return len(k.creds) == 0 }

// Lookup returns the principal for presented. Every credential is compared
// so timing does not reveal which one matched.
func (k *Keyring) Lookup(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	var (
		found Principal
		ok    bool
	)
	p := []byte(presented)
	for _, c := range k.creds {
		if subtle.ConstantTimeCompare(p, c.secret) == 1 && !ok {
			found, ok = c.principal, true
		}
	}
	return found, ok
}

// BearerToken reads the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", ErrBadCredentials
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
