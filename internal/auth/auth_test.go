package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

func TestKeyringLookup(t *testing.T) {
	keys := NewKeyring("admin", []TokenConfig{
		{Token: "reader", Scopes: []string{ScopePluginsRO, " "}},
		{Token: "writer", Scopes: []string{ScopePluginsRW, ScopeEventsRW}},
		{Token: "", Scopes: []string{ScopeAll}},
	})
	require.False(t, keys.Empty())

	p, ok := keys.Lookup("admin")
	require.True(t, ok)
	assert.Equal(t, "api_key", p.Name)
	assert.True(t, p.Scopes.Allows("anything"))

	p, ok = keys.Lookup("reader")
	require.True(t, ok)
	assert.Equal(t, "tokens[0]", p.Name)
	assert.True(t, p.Scopes.Allows(ScopePluginsRO))
	assert.False(t, p.Scopes.Allows(ScopePluginsRW))
	assert.Len(t, p.Scopes, 1)

	p, ok = keys.Lookup("writer")
	require.True(t, ok)
	assert.True(t, p.Scopes.Allows(ScopePluginsRO), "write implies read")
	assert.True(t, p.Scopes.Allows(ScopeEventsRO))
	assert.True(t, p.Scopes.Allows(), "no requirement")

	for _, bad := range []string{"", "nope", "admi", "adminx"} {
		_, ok = keys.Lookup(bad)
		assert.False(t, ok, bad)
	}
}

func TestEmptyKeyringRejectsEverything(t *testing.T) {
	keys := NewKeyring("", []TokenConfig{{Token: ""}})
	assert.True(t, keys.Empty())
	_, ok := keys.Lookup("")
	assert.False(t, ok)
	_, ok = keys.Lookup("anything")
	assert.False(t, ok)
}

func TestKnownScope(t *testing.T) {
	for _, s := range []string{ScopeAll, ScopePluginsRO, ScopePluginsRW, ScopeEventsRO, ScopeEventsRW} {
		assert.True(t, KnownScope(s), s)
	}
	for _, s := range []string{"", "jobs:rw", "plugins", "events:*"} {
		assert.False(t, KnownScope(s), s)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"Bearer   abc  ", "abc", nil},
		{"", "", ErrNoCredentials},
		{"Basic abc", "", ErrBadCredentials},
		{"Bearer    ", "", ErrNoCredentials},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := BearerToken(r)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Name: "tokens[0]"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "tokens[0]", p.Name)
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy(map[string][]string{
		"A": {"cfg/getConfig", "compiler/*"},
		"B": {"*"},
		"C": {},
	})
	require.NoError(t, err)

	tests := []struct {
		plugin string
		key    endpoint.Key
		want   bool
	}{
		{"A", endpoint.Key{Key: "cfg", Type: "getConfig"}, true},
		{"A", endpoint.Key{Key: "cfg", Type: "setConfig"}, false},
		{"A", endpoint.Key{Key: "compiler", Type: "getCompilationResult"}, true},
		{"B", endpoint.Key{Key: "cfg", Type: "setConfig"}, true},
		{"C", endpoint.Key{Key: "cfg", Type: "setConfig"}, true},
		{"unlisted", endpoint.Key{Key: "cfg", Type: "setConfig"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Allowed(tt.plugin, tt.key), "%s -> %s", tt.plugin, tt.key)
	}

	assert.Equal(t, []string{"cfg/getConfig", "compiler/*"}, p.Rules("A"))
	assert.Equal(t, []string{"*"}, p.Rules("B"))
	assert.Nil(t, p.Rules("C"))
}

func TestPolicyAuthorize(t *testing.T) {
	p, err := NewPolicy(map[string][]string{"A": {"cfg/getConfig"}})
	require.NoError(t, err)

	spec := endpoint.Spec{Key: endpoint.Key{Key: "cfg", Type: "setConfig"}}
	err = p.Authorize(context.Background(), "A", spec)
	var perr *protocol.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, protocol.CodeForbidden, perr.Code)
	assert.Equal(t, "plugin A is not allowed to call cfg/setConfig", perr.Msg)

	require.NoError(t, p.SetRules("A", nil))
	assert.NoError(t, p.Authorize(context.Background(), "A", spec))
}

func TestPolicyRejectsBadPatterns(t *testing.T) {
	for _, pat := range []string{"cfg", "/getConfig", "*/getConfig", "a/b/c", ""} {
		_, err := NewPolicy(map[string][]string{"A": {pat}})
		assert.Error(t, err, pat)
	}
}
