// internal/config/loader.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, WORKSPACE_MAX_CONCURRENT_TASKS, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path ~/.config/codeagentd/config.yaml is used; the default path
// must live under ~/.config/codeagentd/ or /etc/codeagentd/. An explicitly
// provided path is trusted to the operator.
//
// Configuration files must have 0600 or 0400 permissions and be at most 1MB;
// the file holds the remote repository token.
//
// Environment variables use underscore separator and are uppercased. The
// transformer maps them onto section.field names:
//
//	SERVER_PORT -> server.port
//	GITHUB_TOKEN -> github.token
//	WORKSPACE_MAX_CONCURRENT_TASKS -> workspace.max_concurrent_tasks
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "codeagentd", "config.yaml")
	}

	if !explicit {
		if err := validateConfigPath(configPath); err != nil {
			return nil, fmt.Errorf("config path validation failed: %w", err)
		}
	}

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using file descriptor to avoid TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	// SERVER_PORT -> server.port, GITHUB_TOKEN -> github.token
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Split on first underscore only (section.field_name pattern);
		// underscores inside the field name are preserved.
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the codeagentd config directory if it doesn't
// exist, with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "codeagentd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Symlink evaluation fails for paths that don't exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "codeagentd"),
		"/etc/codeagentd",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/codeagentd/ or /etc/codeagentd/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Check file permissions (must be 0600 or 0400).
	// Skip on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
