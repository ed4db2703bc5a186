// Package doctor checks a switchboard configuration against the endpoints
// the host actually exposes.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/endpoint"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the endpoint table.
type Doctor struct {
	cfg   *config.Config
	table *endpoint.Table
}

// New creates a Doctor. table holds the endpoints plugins may call; a nil
// table skips allow-list reachability checks.
func New(cfg *config.Config, table *endpoint.Table) *Doctor {
	return &Doctor{cfg: cfg, table: table}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateIntegrity(r)
	d.validateTokenScopes(r)
	d.validateListeners(r)
	d.warnAllowRules(r)
	d.warnAPIAuth(r)
	d.warnState(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports every structural error from config.Validate.
func (d *Doctor) validateConfig(r *Result) {
	err := config.Validate(d.cfg)
	if err == nil {
		return
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			d.addError(r, "config", "", e.Error())
		}
		return
	}
	d.addError(r, "config", "", err.Error())
}

// validateIntegrity checks the loaded files against the .checksums
// manifest next to the root file. Configs built in memory are skipped.
func (d *Doctor) validateIntegrity(r *Result) {
	if len(d.cfg.SourceFiles) == 0 {
		return
	}
	dir := filepath.Dir(d.cfg.SourceFiles[0])
	manifest, err := config.LoadChecksums(dir)
	switch {
	case errors.Is(err, config.ErrNoChecksums):
		d.addWarning(r, "integrity", config.ChecksumFile,
			"no checksum manifest; run 'switchboard config lock' to pin config files")
	case err != nil:
		d.addError(r, "integrity", config.ChecksumFile, err.Error())
	default:
		if err := config.VerifyChecksums(dir, manifest, d.cfg.SourceFiles); err != nil {
			d.addError(r, "integrity", config.ChecksumFile, err.Error())
		}
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			scope = strings.TrimSpace(scope)
			if auth.KnownScope(scope) {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				fmt.Sprintf("unknown scope %q (expected plugins:ro, plugins:rw, events:ro, events:rw or *)", scope))
		}
	}
}

// validateListeners rejects the API and webhook receiver sharing an address.
func (d *Doctor) validateListeners(r *Result) {
	if d.cfg.Webhooks == nil || !d.cfg.API.Enabled {
		return
	}
	if d.cfg.Webhooks.Listen != "" && d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "listeners", "webhooks.listen",
			fmt.Sprintf("webhooks.listen %q conflicts with api.listen", d.cfg.Webhooks.Listen))
	}
}

// warnAllowRules flags plugins without restrictions and rules that can
// never match a registered endpoint.
func (d *Doctor) warnAllowRules(r *Result) {
	for i, p := range d.cfg.Plugins {
		field := fmt.Sprintf("plugins[%d].allow", i)
		if len(p.Allow) == 0 {
			d.addWarning(r, "allow", field,
				fmt.Sprintf("plugin %q may call every endpoint", p.Title))
			continue
		}
		if d.table == nil {
			continue
		}
		for _, pattern := range p.Allow {
			pattern = strings.TrimSpace(pattern)
			if pattern == "*" || auth.ValidatePattern(pattern) != nil {
				continue
			}
			if !d.matchesAny(pattern) {
				d.addWarning(r, "allow", field,
					fmt.Sprintf("plugin %q: allow rule %q matches no endpoint", p.Title, pattern))
			}
		}
	}
}

func (d *Doctor) matchesAny(pattern string) bool {
	rule, err := endpoint.ParseKey(pattern)
	if err != nil {
		return false
	}
	for _, k := range d.table.Keys() {
		if k.Key == rule.Key && (rule.Type == "*" || rule.Type == k.Type) {
			return true
		}
	}
	return false
}

// warnAPIAuth flags an open or legacy-keyed admin API.
func (d *Doctor) warnAPIAuth(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	a := d.cfg.API.Auth
	switch {
	case a.APIKey == "" && len(a.Tokens) == 0:
		d.addWarning(r, "api", "api.auth",
			"API enabled but no authentication configured; admin routes reject every request")
	case a.APIKey != "" && len(a.Tokens) > 0:
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	case a.APIKey != "":
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

func (d *Doctor) warnState(r *Result) {
	if d.cfg.State.AuditMessages && strings.HasPrefix(d.cfg.State.Path, ":memory:") {
		d.addWarning(r, "state", "state.path",
			"message audit log is kept in memory and lost on restart")
	}
	if d.cfg.State.AuditMessages && d.cfg.State.MessageRetention == 0 {
		d.addWarning(r, "state", "state.message_retention",
			"message_retention is 0; the audit log is never pruned")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
