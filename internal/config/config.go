// Package config handles configuration loading and path management.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"clawdscan/internal/health"
)

const (
	// DirName is the per-user configuration directory name.
	DirName = "clawdscan"

	// FileName is the configuration file name inside DirName.
	FileName = "config.yaml"

	// DefaultRootName is the agent data directory under the home directory.
	DefaultRootName = ".openclaw"

	// ArchiveDirName is the archive directory created under the scan root.
	ArchiveDirName = "archived-sessions"
)

// Environment overrides
const (
	EnvConfig = "CLAWDSCAN_CONFIG"
	EnvDir    = "CLAWDSCAN_DIR"
)

// Config is the resolved runtime configuration.
type Config struct {
	Root        string
	ArchiveRoot string // empty means <Root>/archived-sessions
	Workers     int
	Thresholds  health.Thresholds
	SkillDirs   []string // checked by "skills" in addition to the defaults
}

// ConfigError reports a configuration file that cannot be used.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default returns the built-in configuration.
func Default() Config {
	root := DefaultRootName
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, DefaultRootName)
	}
	return Config{
		Root:       root,
		Workers:    DefaultWorkers(),
		Thresholds: health.DefaultThresholds(),
	}
}

// DefaultWorkers sizes the scan pool. Scanning is mostly I/O so it runs
// ahead of the CPU count.
func DefaultWorkers() int {
	n := runtime.NumCPU() * 2
	if n > 16 {
		n = 16
	}
	return n
}

// ArchiveDir returns the archive root, defaulting to a directory under Root.
func (c Config) ArchiveDir() string {
	if c.ArchiveRoot != "" {
		return c.ArchiveRoot
	}
	return filepath.Join(c.Root, ArchiveDirName)
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("root must not be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Workers)
	}
	return c.Thresholds.Validate()
}

// Path returns the configuration file location: $CLAWDSCAN_CONFIG, else
// $XDG_CONFIG_HOME/clawdscan/config.yaml, else ~/.config/clawdscan/config.yaml.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return ExpandHome(p), nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, DirName, FileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", DirName, FileName), nil
}

// LoadDefault loads the configuration from Path and applies environment
// overrides.
func LoadDefault() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, &ConfigError{Err: fmt.Errorf("locate config: %w", err)}
	}
	return Load(path)
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults. Environment overrides are applied last. Every failure is a
// *ConfigError.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("failed to read file: %w", err)}
	default:
		if err := apply(&cfg, data); err != nil {
			return Config{}, &ConfigError{Path: path, Err: err}
		}
	}

	if dir := os.Getenv(EnvDir); dir != "" {
		cfg.Root = ExpandHome(dir)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := apply(&cfg, data); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	return cfg, nil
}

type fileConfig struct {
	Root        string         `yaml:"root"`
	ArchiveRoot string         `yaml:"archive_root"`
	Workers     *int           `yaml:"workers"`
	Thresholds  fileThresholds `yaml:"thresholds"`
	SkillDirs   []string       `yaml:"skill_dirs"`
}

type fileThresholds struct {
	CriticalSizeBytes    *ByteSize `yaml:"critical_size_bytes"`
	WarningSizeBytes     *ByteSize `yaml:"warning_size_bytes"`
	CriticalMessageCount *int      `yaml:"critical_message_count"`
	WarningMessageCount  *int      `yaml:"warning_message_count"`
	StaleAfterDays       *int      `yaml:"stale_after_days"`
	ZombieMaxMessages    *int      `yaml:"zombie_max_messages"`
	ZombieMinAgeHours    *int      `yaml:"zombie_min_age_hours"`
	CompactedMinCount    *int      `yaml:"compacted_min_count"`
}

func apply(cfg *Config, data []byte) error {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if fc.Root != "" {
		cfg.Root = ExpandHome(fc.Root)
	}
	if fc.ArchiveRoot != "" {
		cfg.ArchiveRoot = ExpandHome(fc.ArchiveRoot)
	}
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	for _, dir := range fc.SkillDirs {
		cfg.SkillDirs = append(cfg.SkillDirs, ExpandHome(dir))
	}

	th := &cfg.Thresholds
	ft := fc.Thresholds
	if ft.CriticalSizeBytes != nil {
		th.CriticalSizeBytes = int64(*ft.CriticalSizeBytes)
	}
	if ft.WarningSizeBytes != nil {
		th.WarningSizeBytes = int64(*ft.WarningSizeBytes)
	}
	setInt(&th.CriticalMessageCount, ft.CriticalMessageCount)
	setInt(&th.WarningMessageCount, ft.WarningMessageCount)
	setInt(&th.StaleAfterDays, ft.StaleAfterDays)
	setInt(&th.ZombieMaxMessages, ft.ZombieMaxMessages)
	setInt(&th.ZombieMinAgeHours, ft.ZombieMinAgeHours)
	setInt(&th.CompactedMinCount, ft.CompactedMinCount)
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// ByteSize is a size in bytes that decodes from an integer or a human string
// such as "5MB" or "1 MiB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	if node.Tag == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	n, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// ParseSize parses sizes like "5M", "100KB", "1.5 GiB" or "2048".
// Single-letter and SI suffixes are read as binary multiples, matching how
// disk usage is reported.
func ParseSize(s string) (int64, error) {
	value := strings.TrimSpace(s)
	if value == "" {
		return 0, errors.New("empty size")
	}
	upper := strings.ToUpper(value)
	for _, suffix := range []string{"KB", "MB", "GB", "TB", "K", "M", "G", "T"} {
		if strings.HasSuffix(upper, suffix) {
			value = strings.TrimSpace(value[:len(value)-len(suffix)]) + string(suffix[0]) + "iB"
			break
		}
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int64(n), nil
}

// ExpandHome replaces a leading "~" with the home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
