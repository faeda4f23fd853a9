package secrets

import (
	"regexp"
	"slices"
	"strings"
)

// Finding is one detected credential. The matched text is never kept.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool { return len(r.Findings) > 0 }

// Scrubber redacts credentials. It is safe for concurrent use.
type Scrubber struct {
	enabled     bool
	replacement string
	rules       []*compiledRule
	allow       []*regexp.Regexp
}

// New compiles cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Scrubber{enabled: cfg.Enabled, replacement: cfg.RedactionString}
	if s.replacement == "" {
		s.replacement = "[REDACTED]"
	}
	if !cfg.Enabled {
		return s, nil
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	s.rules, s.allow = rules, allow
	return s, nil
}

// Enabled reports whether scrubbing is active.
func (s *Scrubber) Enabled() bool { return s.enabled }

type span struct{ start, end int }

// Scrub replaces every match with the redaction string. Overlapping
// matches are merged into one replacement.
func (s *Scrubber) Scrub(text string) Result {
	res := Result{Scrubbed: text}
	if !s.enabled || text == "" {
		return res
	}

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{RuleID: rule.ID, Severity: rule.Severity, Start: m[0], End: m[1]})
			if res.ByRule == nil {
				res.ByRule = make(map[string]int)
			}
			res.ByRule[rule.ID]++
			spans = append(spans, span{m[0], m[1]})
		}
	}
	if len(spans) == 0 {
		return res
	}

	var b strings.Builder
	last := 0
	for _, sp := range merge(spans) {
		b.WriteString(text[last:sp.start])
		b.WriteString(s.replacement)
		last = sp.end
	}
	b.WriteString(text[last:])
	res.Scrubbed = b.String()
	return res
}

// Redact returns text with credentials replaced and the number of findings.
func (s *Scrubber) Redact(text string) (string, int) {
	res := s.Scrub(text)
	return res.Scrubbed, len(res.Findings)
}

func (r *compiledRule) applies(text string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping or adjacent ones.
func merge(spans []span) []span {
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			last.end = max(last.end, sp.end)
			continue
		}
		out = append(out, sp)
	}
	return out
}
