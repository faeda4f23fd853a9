package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber. It is decoded from the "secrets" config
// section.
type Config struct {
	Enabled         bool     `koanf:"enabled"`
	Rules           []Rule   `koanf:"rules"`
	RedactionString string   `koanf:"redaction_string"`
	AllowList       []string `koanf:"allow_list"`
}

// Rule is one detection pattern. When Keywords is set, the rule only runs on
// text containing at least one of them (case-insensitive).
type Rule struct {
	ID       string   `koanf:"id"`
	Pattern  string   `koanf:"pattern"`
	Keywords []string `koanf:"keywords"`
	Severity string   `koanf:"severity"`
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig enables the built-in rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

func (c *Config) compile() ([]*compiledRule, []*regexp.Regexp, error) {
	rules := make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
