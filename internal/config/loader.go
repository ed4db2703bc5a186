package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, merges, integrity-checks and validates the configuration at
// configPath. A directory selects config.yaml inside it. When a .checksums
// manifest sits next to the root file, every loaded file must match it.
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnverified(configPath)
	if err != nil {
		return nil, err
	}

	configDir := filepath.Dir(cfg.SourceFiles[0])
	manifest, err := LoadChecksums(configDir)
	switch {
	case errors.Is(err, ErrNoChecksums):
		// Integrity checking is opt-in.
	case err != nil:
		return nil, err
	default:
		if err := VerifyChecksums(configDir, manifest, cfg.SourceFiles); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadUnverified reads and merges the configuration tree without checking
// checksums or validating it. config lock uses it to find the files to hash.
func LoadUnverified(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg := Defaults()
	if err := decodeFile(absPath, cfg); err != nil {
		return nil, err
	}
	cfg.SourceFiles = []string{absPath}

	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile interpolates environment variables and decodes onto dst.
// Keys absent from the file keep the values already in dst.
func decodeFile(path string, dst *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), dst); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolved := includePath
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolved)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		var included Config
		if err := decodeFile(absPath, &included); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, &included)
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeConfig merges src into dst. Non-zero scalars in src win; lists are appended.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.Codec != "" {
		dst.Service.Codec = src.Service.Codec
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.State.MessageRetention != 0 {
		dst.State.MessageRetention = src.State.MessageRetention
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	if src.API.OutboxSize != 0 {
		dst.API.OutboxSize = src.API.OutboxSize
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	if src.Execution.Backend != "" {
		dst.Execution.Backend = src.Execution.Backend
	}
	if src.Webhooks != nil {
		if dst.Webhooks == nil {
			dst.Webhooks = &WebhooksConfig{}
		}
		if src.Webhooks.Listen != "" {
			dst.Webhooks.Listen = src.Webhooks.Listen
		}
		dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)
	}
	dst.Plugins = append(dst.Plugins, src.Plugins...)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
