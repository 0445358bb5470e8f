package scrub

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML indicates an allowlist file that fails to parse.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")

	// ErrInvalidRegex indicates an allowlist pattern that fails to
	// compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// LoadAllowlist reads content regex patterns from a TOML file shaped
//
//	[allowlist]
//	regexes = ["EXAMPLE_KEY_[0-9]+", ...]
//
// A missing file yields an empty list; an unreadable or invalid file is
// an error. Patterns are validated fail-fast.
func LoadAllowlist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var config struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return config.Allowlist.Regexes, nil
}
