package session

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/pr-viewer/internal/logging"
	"github.com/asheshgoplani/pr-viewer/internal/preload"
	"github.com/asheshgoplani/pr-viewer/internal/search"
)

// UserConfigFileName is the TOML config file for user preferences
const UserConfigFileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// Archive selects the default archives opened at startup
	Archive ArchiveSettings `toml:"archive"`

	// Repository selects the default git repository
	Repository RepositorySettings `toml:"repository"`

	// Search tunes the ranked text phase
	Search SearchSettings `toml:"search"`

	// Preload configures background cache warming after searches
	Preload PreloadSettings `toml:"preload"`

	// Logs configures debug logging
	Logs LogSettings `toml:"logs"`
}

// ArchiveSettings defines archive defaults
type ArchiveSettings struct {
	// Path is the PR archive (.zip, .tar.gz) opened when none is given
	Path string `toml:"path"`

	// ImagesPath is the optional images archive (.zip)
	ImagesPath string `toml:"images_path"`

	// WorkspaceDir is the parent for extraction workspaces
	// Default: ~/.pr-viewer/workspaces
	WorkspaceDir string `toml:"workspace_dir"`

	// Watch reloads the archive when the file changes on disk
	// Default: false
	Watch bool `toml:"watch"`
}

// RepositorySettings defines the default repository
type RepositorySettings struct {
	// Path is the git work tree or git directory
	Path string `toml:"path"`
}

// SearchSettings defines search ranking
type SearchSettings struct {
	// TitleWeight is the bm25 weight of the title field
	// Default: 1.0
	TitleWeight float64 `toml:"title_weight"`

	// AuthorWeight is the bm25 weight of the author field
	// Default: 0.5
	AuthorWeight float64 `toml:"author_weight"`

	// Fuzzy enables the typo-tolerant title fallback
	// Default: true
	Fuzzy *bool `toml:"fuzzy"`
}

// GetFuzzy returns whether fuzzy matching is enabled, defaulting to true
func (s *SearchSettings) GetFuzzy() bool {
	if s.Fuzzy == nil {
		return true
	}
	return *s.Fuzzy
}

// PreloadSettings defines background cache warming
type PreloadSettings struct {
	// Enabled turns preloading on
	// Default: true
	Enabled *bool `toml:"enabled"`

	// Limit caps how many results are warmed per search
	// Default: 100
	Limit int `toml:"limit"`

	// RatePerSecond paces archive reads, 0 means unpaced
	RatePerSecond float64 `toml:"rate_per_second"`
}

// GetEnabled returns whether preloading is enabled, defaulting to true
func (p *PreloadSettings) GetEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// LogSettings defines log file management configuration
type LogSettings struct {
	// Dir overrides the log directory
	// Default: ~/.pr-viewer/logs
	Dir string `toml:"dir"`

	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB for debug.log before rotation
	// Default: 10
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated debug.log files to keep
	// Default: 3
	MaxBackups int `toml:"max_backups"`

	// RetentionDays is the number of days to keep rotated debug logs
	// Default: 7
	RetentionDays int `toml:"retention_days"`

	// Compress enables gzip compression for rotated debug logs
	Compress bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 2
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalS is the event aggregation flush interval in seconds
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// Default user config
var defaultUserConfig = UserConfig{}

// Cache for user config (loaded once per process)
var (
	userConfigCache   *UserConfig
	userConfigCacheMu sync.RWMutex
)

// GetUserConfigPath returns the path to the user config file
func GetUserConfigPath() (string, error) {
	dir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, UserConfigFileName), nil
}

// LoadUserConfig loads the user configuration from TOML file
// Returns cached config after first load
func LoadUserConfig() (*UserConfig, error) {
	userConfigCacheMu.RLock()
	if userConfigCache != nil {
		defer userConfigCacheMu.RUnlock()
		return userConfigCache, nil
	}
	userConfigCacheMu.RUnlock()

	userConfigCacheMu.Lock()
	defer userConfigCacheMu.Unlock()

	// Double-check after acquiring write lock
	if userConfigCache != nil {
		return userConfigCache, nil
	}

	configPath, err := GetUserConfigPath()
	if err != nil {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		userConfigCache = &defaultUserConfig
		return userConfigCache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Cache the default to prevent repeated parse attempts
		userConfigCache = &defaultUserConfig
		return userConfigCache, fmt.Errorf("config.toml parse error: %w", err)
	}

	userConfigCache = &config
	return userConfigCache, nil
}

// ReloadUserConfig forces a reload of the user config
func ReloadUserConfig() (*UserConfig, error) {
	ClearUserConfigCache()
	return LoadUserConfig()
}

// SaveUserConfig writes the config to config.toml using an atomic
// write-then-rename and clears the cache.
func SaveUserConfig(config *UserConfig) error {
	configPath, err := GetUserConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# PR Viewer Configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_ = syncConfigFile(tmpPath)

	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearUserConfigCache()
	return nil
}

// syncConfigFile calls fsync on a file to ensure data is written to disk
func syncConfigFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// ClearUserConfigCache clears the cached user config, allowing tests to reset state
func ClearUserConfigCache() {
	userConfigCacheMu.Lock()
	userConfigCache = nil
	userConfigCacheMu.Unlock()
}

// GetLogSettings returns log settings with defaults applied
func GetLogSettings() LogSettings {
	var settings LogSettings
	if config, err := LoadUserConfig(); err == nil && config != nil {
		settings = config.Logs
	}

	if settings.Level == "" {
		settings.Level = "info"
	}
	if settings.Format == "" {
		settings.Format = "json"
	}
	if settings.MaxSizeMB <= 0 {
		settings.MaxSizeMB = 10
	}
	if settings.MaxBackups <= 0 {
		settings.MaxBackups = 3
	}
	if settings.RetentionDays <= 0 {
		settings.RetentionDays = 7
	}
	if settings.RingBufferMB <= 0 {
		settings.RingBufferMB = 2
	}
	if settings.AggregateIntervalS <= 0 {
		settings.AggregateIntervalS = 30
	}
	if settings.Dir == "" {
		if dir, err := GetLogsDir(); err == nil {
			settings.Dir = dir
		}
	} else {
		settings.Dir = ExpandPath(settings.Dir)
	}
	return settings
}

// LoggingConfig converts log settings into a logging.Config.
func (s LogSettings) LoggingConfig(debug bool) logging.Config {
	cfg := logging.Config{
		Level:                 s.Level,
		Format:                s.Format,
		MaxSizeMB:             s.MaxSizeMB,
		MaxBackups:            s.MaxBackups,
		MaxAgeDays:            s.RetentionDays,
		Compress:              s.Compress,
		RingBufferSize:        s.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: s.AggregateIntervalS,
		Debug:                 debug,
	}
	if debug {
		cfg.LogDir = s.Dir
		cfg.Level = "debug"
	}
	return cfg
}

// GetSearchOptions returns search options with defaults applied
func GetSearchOptions() search.Options {
	opts := search.DefaultOptions()
	config, err := LoadUserConfig()
	if err != nil || config == nil {
		return opts
	}
	if config.Search.TitleWeight > 0 {
		opts.TitleWeight = config.Search.TitleWeight
	}
	if config.Search.AuthorWeight > 0 {
		opts.AuthorWeight = config.Search.AuthorWeight
	}
	opts.Fuzzy = config.Search.GetFuzzy()
	return opts
}

// GetPreloadOptions returns preload options and whether preloading is on
func GetPreloadOptions() (preload.Options, bool) {
	opts := preload.Options{Limit: preload.DefaultLimit}
	config, err := LoadUserConfig()
	if err != nil || config == nil {
		return opts, true
	}
	if config.Preload.Limit > 0 {
		opts.Limit = config.Preload.Limit
	}
	if config.Preload.RatePerSecond > 0 {
		opts.RatePerSecond = config.Preload.RatePerSecond
	}
	return opts, config.Preload.GetEnabled()
}

// Defaults holds the startup paths after applying flags, environment and
// config, in that order of precedence.
type Defaults struct {
	ArchivePath  string
	ImagesPath   string
	RepoPath     string
	WorkspaceDir string
	Watch        bool
}

// ResolveDefaults merges explicit values (usually CLI flags) with
// PRVIEWER_* variables and config.toml.
func ResolveDefaults(archive, images, repo string) Defaults {
	var cfg UserConfig
	if c, err := LoadUserConfig(); err == nil && c != nil {
		cfg = *c
	}
	d := Defaults{
		ArchivePath:  firstNonEmpty(archive, os.Getenv(EnvArchive), cfg.Archive.Path),
		ImagesPath:   firstNonEmpty(images, os.Getenv(EnvImages), cfg.Archive.ImagesPath),
		RepoPath:     firstNonEmpty(repo, os.Getenv(EnvRepo), cfg.Repository.Path),
		WorkspaceDir: firstNonEmpty(cfg.Archive.WorkspaceDir),
		Watch:        cfg.Archive.Watch,
	}
	if d.WorkspaceDir == "" {
		if dir, err := GetWorkspacesDir(); err == nil {
			d.WorkspaceDir = dir
		}
	}
	return d
}
