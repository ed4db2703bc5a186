package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/endpoint"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "reader", Scopes: []string{"plugins:ro"}},
	}
	cfg.Plugins = []config.PluginConf{
		{Title: "A", URL: "https://a.example", Allow: []string{"settings/*", "compiler/getCompilationResult"}},
	}
	return cfg
}

func hostTable(t *testing.T) *endpoint.Table {
	t.Helper()
	table := endpoint.NewTable()
	if err := capability.NewSettings(nil).Register(table); err != nil {
		t.Fatal(err)
	}
	if err := capability.NewCompiler().Register(table); err != nil {
		t.Fatal(err)
	}
	return table
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(), hostTable(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingStatePath(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ""
	r := New(cfg, hostTable(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "config", "state.path")
}

func TestValidate_ReportsEveryConfigError(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ""
	cfg.Service.LogLevel = "loud"
	cfg.Execution.Backend = "mainnet"
	r := New(cfg, hostTable(t)).Validate()
	if len(r.Errors) != 3 {
		t.Fatalf("expected 3 errors, got: %v", r.Errors)
	}
	assertHasError(t, r, "config", "log_level")
	assertHasError(t, r, "config", "backend")
}

func TestValidate_TokenScopeUnknown(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "k", Scopes: []string{"plugins:ro", "jobs:rw"}},
	}
	r := New(cfg, hostTable(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", "jobs:rw")
}

func TestValidate_ListenerConflict(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Webhooks = &config.WebhooksConfig{
		Listen: cfg.API.Listen,
		Endpoints: []config.WebhookEndpoint{
			{Path: "/host", Secret: "s", SignatureHeader: "X-Signature"},
		},
	}
	r := New(cfg, hostTable(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "listeners", "conflicts")
}

func TestValidate_WebhookMissingSecret(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Webhooks = &config.WebhooksConfig{
		Listen: "127.0.0.1:9090",
		Endpoints: []config.WebhookEndpoint{
			{Path: "/host", SignatureHeader: "X-Signature"},
		},
	}
	r := New(cfg, hostTable(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "config", "secret")
}

func TestValidate_WarnUnrestrictedPlugin(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Plugins = append(cfg.Plugins, config.PluginConf{Title: "B", URL: "https://b.example"})
	r := New(cfg, hostTable(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "allow", `"B" may call every endpoint`)
}

func TestValidate_WarnUnreachableAllowRule(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Plugins[0].Allow = []string{"settings/getConfig", "wallet/*", "compiler/compile"}
	r := New(cfg, hostTable(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	if len(r.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got: %v", r.Warnings)
	}
	assertHasWarning(t, r, "allow", "wallet/*")
	assertHasWarning(t, r, "allow", "compiler/compile")
}

func TestValidate_NilTableSkipsReachability(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Plugins[0].Allow = []string{"wallet/*"}
	r := New(cfg, nil).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_WarnOpenAPI(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens = nil
	r := New(cfg, hostTable(t)).Validate()
	assertHasWarning(t, r, "api", "no authentication")
}

func TestValidate_WarnDeprecatedAPIKey(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens = nil
	cfg.API.Auth.APIKey = "old-key"
	r := New(cfg, hostTable(t)).Validate()
	assertHasWarning(t, r, "deprecated", "api_key")
}

func TestValidate_WarnBothAPIKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "old-key"
	r := New(cfg, hostTable(t)).Validate()
	assertHasWarning(t, r, "deprecated", "both")
}

func TestValidate_WarnState(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.State.Path = ":memory:"
	cfg.State.MessageRetention = 0
	r := New(cfg, hostTable(t)).Validate()
	assertHasWarning(t, r, "state", "in memory")
	assertHasWarning(t, r, "state", "never pruned")
}

func TestValidate_Integrity(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	root := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(root, []byte("plugins: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := validConfig()
	cfg.SourceFiles = []string{root}

	r := New(cfg, hostTable(t)).Validate()
	assertHasWarning(t, r, "integrity", "config lock")

	if _, err := config.GenerateChecksums(dir, cfg.SourceFiles, false); err != nil {
		t.Fatal(err)
	}
	r = New(cfg, hostTable(t)).Validate()
	if !r.Valid || len(r.Warnings) != 0 {
		t.Fatalf("expected clean result, got errors=%v warnings=%v", r.Errors, r.Warnings)
	}

	if err := os.WriteFile(root, []byte("plugins: [] # edited\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r = New(cfg, hostTable(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid after edit")
	}
	assertHasError(t, r, "integrity", "verification failed")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "w", Message: "careful"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [w] careful") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
