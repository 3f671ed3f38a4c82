// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inkwell

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/inkwell/chat"
	"github.com/jeranaias/inkwell/internal/backend"
	"github.com/jeranaias/inkwell/internal/secrets"
	"github.com/jeranaias/inkwell/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete engine configuration. The zero value is not usable;
// start from Default or Load.
type Config struct {
	// Version is the config schema version.
	Version string `toml:"version" json:"version"`

	// Offline starts the engine disconnected; writes queue until SetOnline.
	Offline bool `toml:"offline" json:"offline"`

	// Backend configures the HTTP transport.
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Storage configures local persistence.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Stream configures the streaming exchange and adjacent polling.
	Stream StreamConfig `toml:"stream" json:"stream"`

	// Modules configures per-module request defaults.
	Modules ModulesConfig `toml:"modules" json:"modules"`
}

// BackendConfig contains HTTP transport configuration.
type BackendConfig struct {
	// BaseURL is the API root, including the version prefix.
	BaseURL string `toml:"base_url" json:"base_url"`
	// Token is the bearer token. May be stored encrypted with an ENC: prefix;
	// Load decrypts it transparently.
	Token string `toml:"token" json:"token"`
	// TimeoutSecs is the per-request timeout for non-streaming calls.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries bounds retry attempts for idempotent requests.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerSecond enables client-side request pacing when positive.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	// Burst is the pacing burst size; required positive when pacing is on.
	Burst int `toml:"burst" json:"burst"`
}

// StorageConfig contains local persistence configuration.
type StorageConfig struct {
	// DataDir is the directory holding session caches, the offline queue, and
	// the master key. Empty means ~/.inkwell.
	DataDir string `toml:"data_dir" json:"data_dir"`
	// EncryptToken stores the backend token encrypted at rest.
	// SECURITY: Enabled by default; plaintext tokens in config files leak
	// through backups and careless file sharing.
	EncryptToken bool `toml:"encrypt_token" json:"encrypt_token"`
}

// StreamConfig contains streaming-adjacent tuning.
type StreamConfig struct {
	// PollIntervalSecs is the document ingestion poll interval.
	PollIntervalSecs int `toml:"poll_interval_secs" json:"poll_interval_secs"`
	// PollMaxAttempts bounds ingestion polling; exhaustion stops silently.
	PollMaxAttempts int `toml:"poll_max_attempts" json:"poll_max_attempts"`
}

// ModulesConfig contains per-module request defaults. The controller folds
// these into outgoing payloads when the caller leaves the matching option
// unset.
type ModulesConfig struct {
	// Default is the module used when the caller does not pick one:
	// "general", "grammar", "qa", "reformulate", "summarize", "plan", "model".
	Default string `toml:"default" json:"default"`
	// WebSearch grounds responses with web results by default.
	WebSearch bool `toml:"web_search" json:"web_search"`
	// Style is the default reformulation style.
	Style string `toml:"style" json:"style"`
	// PlanType and Structure are the default essay plan parameters.
	PlanType  string `toml:"plan_type" json:"plan_type"`
	Structure string `toml:"structure" json:"structure"`
	// Model overrides the backend's model choice for every request.
	Model string `toml:"model" json:"model"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Offline: false,

		Backend: BackendConfig{
			BaseURL:           backend.DefaultBaseURL,
			Token:             "",
			TimeoutSecs:       30,
			MaxRetries:        3,
			RequestsPerSecond: 0, // pacing off
			Burst:             0,
		},

		Storage: StorageConfig{
			DataDir:      "",
			EncryptToken: true,
		},

		Stream: StreamConfig{
			PollIntervalSecs: 2,
			PollMaxAttempts:  30,
		},

		Modules: ModulesConfig{
			Default:   chat.ModuleGeneral.String(),
			WebSearch: false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the inkwell configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".inkwell"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ResolveDataDir returns the effective data directory, creating nothing.
func (c *Config) ResolveDataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	return ConfigDir()
}

// KeyPath returns the master key file path inside the data directory.
func (c *Config) KeyPath() (string, error) {
	dir, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "master.key"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect
// the backend token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file locations.
// Tries TOML first, then JSON, and falls back to defaults. Environment
// overrides are applied last, then an encrypted backend token is decrypted.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finishLoad(cfg)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finishLoad(cfg)
		}
	}

	return finishLoad(cfg)
}

// LoadFromPath loads configuration from a specific file path, selecting the
// format by extension (.json, otherwise TOML).
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finishLoad(cfg)
}

// finishLoad applies env overrides, defaults, validation, and token
// decryption, in that order.
func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.decryptToken()
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems.
		log.Printf("WARNING: could not ensure secure permissions on %s: %v", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log.Printf("WARNING: could not ensure secure permissions on %s: %v", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file. When token encryption is
// enabled, the written copy carries the token sealed; cfg itself is not
// modified.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	out, err := cfg.sealedForWrite()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if the file already existed.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# inkwell configuration file")
	fmt.Fprintln(file, "# Generated by inkwell - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(cfg *Config, path string) error {
	out, err := cfg.sealedForWrite()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// TOKEN ENCRYPTION
// =============================================================================

// openKeeper opens the at-rest cipher for the token. The master key lives in
// the data directory; INKWELL_MASTER_PASSWORD switches to password-derived
// keys instead of a random key file.
func (c *Config) openKeeper() (*secrets.Keeper, error) {
	keyPath, err := c.KeyPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if pw := os.Getenv("INKWELL_MASTER_PASSWORD"); pw != "" {
		return secrets.OpenWithPassword(keyPath, pw)
	}
	return secrets.Open(keyPath)
}

// decryptToken replaces an ENC:-prefixed token with its plaintext. On failure
// the token is cleared rather than left as ciphertext a client would send as
// a bearer value.
func (c *Config) decryptToken() {
	if !secrets.IsEncrypted(c.Backend.Token) {
		return
	}
	keeper, err := c.openKeeper()
	if err != nil {
		log.Printf("WARNING: cannot open master key, dropping encrypted token: %v", err)
		c.Backend.Token = ""
		return
	}
	plain, err := keeper.DecryptString(c.Backend.Token)
	if err != nil {
		log.Printf("WARNING: cannot decrypt backend token, dropping it: %v", err)
		c.Backend.Token = ""
		return
	}
	c.Backend.Token = plain
}

// sealedForWrite returns the config to persist: a clone with the token
// encrypted when encryption is enabled. Failing to seal is an error; silently
// writing a plaintext token the user asked to encrypt is not acceptable.
func (c *Config) sealedForWrite() (*Config, error) {
	out := c.Clone()
	if !out.Storage.EncryptToken || out.Backend.Token == "" || secrets.IsEncrypted(out.Backend.Token) {
		return out, nil
	}
	keeper, err := c.openKeeper()
	if err != nil {
		return nil, fmt.Errorf("failed to open master key for token encryption: %w", err)
	}
	sealed, err := keeper.EncryptString(out.Backend.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt backend token: %w", err)
	}
	out.Backend.Token = sealed
	return out, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("scheme must be http or https, got %q", u.Scheme),
			})
		}
	}

	if c.Backend.TimeoutSecs < 1 || c.Backend.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "backend.timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Backend.TimeoutSecs),
		})
	}

	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "backend.max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.Backend.MaxRetries),
		})
	}

	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.requests_per_second",
			Message: "cannot be negative",
		})
	}
	if c.Backend.RequestsPerSecond > 0 && c.Backend.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "backend.burst",
			Message: "must be at least 1 when request pacing is enabled",
		})
	}

	if c.Stream.PollIntervalSecs < 1 || c.Stream.PollIntervalSecs > 3600 {
		errs = append(errs, ValidationError{
			Field:   "stream.poll_interval_secs",
			Message: fmt.Sprintf("must be 1-3600, got %d", c.Stream.PollIntervalSecs),
		})
	}
	if c.Stream.PollMaxAttempts < 1 || c.Stream.PollMaxAttempts > 10000 {
		errs = append(errs, ValidationError{
			Field:   "stream.poll_max_attempts",
			Message: fmt.Sprintf("must be 1-10000, got %d", c.Stream.PollMaxAttempts),
		})
	}

	if _, err := chat.ParseModuleType(c.Modules.Default); err != nil {
		errs = append(errs, ValidationError{
			Field:   "modules.default",
			Message: fmt.Sprintf("invalid module %q, must be one of: general, grammar, qa, reformulate, summarize, plan, model", c.Modules.Default),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if c.Backend.TimeoutSecs == 0 {
		c.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if c.Backend.MaxRetries == 0 {
		c.Backend.MaxRetries = defaults.Backend.MaxRetries
	}

	if c.Stream.PollIntervalSecs == 0 {
		c.Stream.PollIntervalSecs = defaults.Stream.PollIntervalSecs
	}
	if c.Stream.PollMaxAttempts == 0 {
		c.Stream.PollMaxAttempts = defaults.Stream.PollMaxAttempts
	}

	if c.Modules.Default == "" {
		c.Modules.Default = defaults.Modules.Default
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - INKWELL_BASE_URL: overrides backend.base_url
//   - INKWELL_TOKEN: overrides backend.token
//   - INKWELL_DATA_DIR: overrides storage.data_dir
//   - INKWELL_OFFLINE: set to "1" or "true" to start disconnected
//   - INKWELL_MODEL: overrides modules.model
//   - INKWELL_WEB_SEARCH: set to "1" or "true" to ground responses by default
func (c *Config) ApplyEnvOverrides() {
	if baseURL := os.Getenv("INKWELL_BASE_URL"); baseURL != "" {
		c.Backend.BaseURL = baseURL
	}

	if token := os.Getenv("INKWELL_TOKEN"); token != "" {
		c.Backend.Token = token
	}

	if dataDir := os.Getenv("INKWELL_DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if offline := os.Getenv("INKWELL_OFFLINE"); offline != "" {
		c.Offline = envBool(offline)
	}

	if model := os.Getenv("INKWELL_MODEL"); model != "" {
		c.Modules.Model = model
	}

	if webSearch := os.Getenv("INKWELL_WEB_SEARCH"); webSearch != "" {
		c.Modules.WebSearch = envBool(webSearch)
	}
}

func envBool(v string) bool {
	return v == "1" || strings.ToLower(v) == "true"
}

// =============================================================================
// HELPERS
// =============================================================================

// DefaultModule returns the configured default module, falling back to the
// general module if the config was never validated.
func (c *Config) DefaultModule() chat.ModuleType {
	m, err := chat.ParseModuleType(c.Modules.Default)
	if err != nil {
		return chat.ModuleGeneral
	}
	return m
}

// DefaultSendOptions returns send options seeded from the modules section.
func (c *Config) DefaultSendOptions() chat.SendOptions {
	return chat.SendOptions{
		UseWebSearch: c.Modules.WebSearch,
		Style:        c.Modules.Style,
		PlanType:     c.Modules.PlanType,
		Structure:    c.Modules.Structure,
		Model:        c.Modules.Model,
	}
}

// Clone creates a copy of the configuration. All fields are value types, so a
// struct copy is a full copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts the backend token to prevent accidental exposure in logs,
// error messages, or debug output.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.Token != "" {
		safe.Backend.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
