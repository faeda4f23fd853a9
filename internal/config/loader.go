package config

import (
	"errors"
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
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GOVCORE_"

	maxConfigFileSize = 1 << 20
)

// ErrPathNotAllowed is returned for config files outside the allowed
// directories.
var ErrPathNotAllowed = errors.New("config file is outside the allowed directories")

// topLevel keys contain underscores but belong to no section.
var topLevel = map[string]bool{"data_dir": true}

type loadOptions struct {
	allowedDirs []string
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithAllowedDirs replaces the directories a config file may live in.
func WithAllowedDirs(dirs ...string) LoadOption {
	return func(o *loadOptions) { o.allowedDirs = dirs }
}

// DefaultDir is ~/.config/govcore.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "govcore"), nil
}

// Load reads defaults, then the YAML or TOML file at path (default
// ~/.config/govcore/config.yaml) when it exists, then GOVCORE_* variables.
//
// The file must live under ~/.config/govcore or /etc/govcore, be mode 0600
// or 0400, and stay under 1 MiB.
//
// Environment variables map GOVCORE_<SECTION>_<FIELD> to section.field, with
// a double underscore descending one more level:
//
//	GOVCORE_CYCLE_INTERVAL=250ms        cycle.interval
//	GOVCORE_NATS_TOKEN=s3cret           nats.token
//	GOVCORE_LOGGING_OUTPUT__OTEL=true   logging.output.otel
//	GOVCORE_DATA_DIR=/var/lib/govcore   data_dir
func Load(path string, opts ...LoadOption) (*Config, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	o := loadOptions{allowedDirs: []string{dir, "/etc/govcore"}}
	for _, opt := range opts {
		opt(&o)
	}
	path = resolvePath(path, dir)

	k := koanf.New(".")
	if err := validateConfigPath(path, o.allowedDirs); err != nil {
		return nil, err
	}
	content, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), parserFor(path)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.k = k
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// parserFor picks the file format from the extension. Anything other than
// .toml is read as YAML.
func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOMLParser()
	}
	return yaml.Parser()
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if topLevel[key] {
		return key
	}
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + strings.ReplaceAll(field, "__", ".")
}

func resolvePath(path, dir string) string {
	if path == "" {
		return filepath.Join(dir, "config.yaml")
	}
	return path
}

// readConfigFile returns nil content when the file does not exist. The file
// is validated through the open descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

func validateConfigPath(path string, allowed []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}
	for _, dir := range allowed {
		d, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if rd, err := filepath.EvalSymlinks(d); err == nil {
			d = rd
		}
		if resolved == d || strings.HasPrefix(resolved, d+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (allowed: %s)", ErrPathNotAllowed, path, strings.Join(allowed, ", "))
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions %v (want 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// EnsureDir creates ~/.config/govcore with mode 0700.
func EnsureDir() error {
	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
