package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RECALLD_"

// maxConfigFileSize caps how much of a config file Load will read.
const maxConfigFileSize = 1 << 20

// Load builds the effective configuration.
//
// path selects an explicit config file. When empty, the RECALLD_CONFIG
// environment variable is consulted, then the default path; a missing
// file at the default path is not an error, a missing explicit file is.
//
// # Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	file, explicit, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		content, err := readConfigFile(file)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", file, err)
			}
		case os.IsNotExist(err) && !explicit:
			// Nothing at the default location; defaults apply.
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	// Environment overrides. Sections nest with a double underscore so
	// field names keep their own underscores:
	//
	//	RECALLD_MODE             -> mode
	//	RECALLD_CACHE__L1_TTL    -> cache.l1_ttl
	//	RECALLD_REMOTE__API_KEY  -> remote.api_key
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// resolvePath picks the config file to read and reports whether the
// caller named it explicitly (flag or RECALLD_CONFIG).
func resolvePath(path string) (file string, explicit bool, err error) {
	if path != "" {
		return path, true, nil
	}
	if envPath := os.Getenv(EnvConfigFile); envPath != "" {
		return envPath, true, nil
	}
	file, err = DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	return file, false, nil
}

// readConfigFile opens the file once and validates properties through
// the open descriptor to avoid a TOCTOU race between check and read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFile(info); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(f, maxConfigFileSize))
}

func validateConfigFile(info fs.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config file is not a regular file (mode %s)", info.Mode())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	if info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("config file is world-writable (mode %s); tighten permissions", info.Mode().Perm())
	}
	return nil
}
