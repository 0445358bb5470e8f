package scrub

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool `koanf:"enabled"`

	// Rules defines the detection rules.
	Rules []Rule `koanf:"rules"`

	// RedactionString replaces detected secrets.
	RedactionString string `koanf:"redaction_string"`

	// AllowList contains regex patterns whose matches are never
	// treated as secrets.
	AllowList []string `koanf:"allow_list"`

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines one secret detection rule.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string `koanf:"id"`

	// Description explains what this rule detects.
	Description string `koanf:"description"`

	// Pattern is the regex matched against content.
	Pattern string `koanf:"pattern"`

	// Keywords, when set, must appear in the content before the
	// pattern is evaluated. Cheap pre-filter for broad patterns.
	Keywords []string `koanf:"keywords"`

	// Severity is high, medium, or low.
	Severity string `koanf:"severity"`
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

func (r *compiledRule) keywordsPresent(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration with the standard rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
		AllowList:       []string{},
	}
}

// Validate compiles the rules and allow list.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		compiled := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			kwPattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(kw))
			if err != nil {
				return fmt.Errorf("rule %s: invalid keyword %q: %w", rule.ID, kw, err)
			}
			compiled.keywords = append(compiled.keywords, kwPattern)
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}

// DefaultRules returns the built-in secret detection rules. Memory
// content is conversational, so the set favors self-identifying token
// prefixes and keyword-anchored assignments over entropy heuristics.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Keywords:    []string{"akia", "asia", "aws"},
			Severity:    "high",
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey|token)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,64})['"]?`,
			Keywords:    []string{"key", "token"},
			Severity:    "high",
		},
		{
			ID:          "generic-secret",
			Description: "Generic secret or password assignment",
			Pattern:     `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			Keywords:    []string{"secret", "password", "passwd", "pwd"},
			Severity:    "high",
		},
		{
			ID:          "private-key",
			Description: "Private key material",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity:    "high",
		},
		{
			ID:          "stripe-key",
			Description: "Stripe API key",
			Pattern:     `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`,
			Severity:    "high",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token in header form",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`,
			Keywords:    []string{"bearer"},
			Severity:    "medium",
		},
		{
			ID:          "database-url",
			Description: "Database URL with embedded credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s:@]+:[^\s@]+@[^\s]+`,
			Keywords:    []string{"://"},
			Severity:    "high",
		},
	}
}
