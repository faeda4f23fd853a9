package secrets

// DefaultRules covers the credentials an operator is likely to paste into a
// note: cloud and forge tokens, bus credentials, connection strings and
// key=value assignments.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "aws-access-key-id",
			Pattern:  `(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Severity: "high",
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords: []string{"api"},
			Severity: "high",
		},
		{
			ID:       "generic-secret",
			Pattern:  `(?i)(?:secret|password|passwd|pwd|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"secret", "pass", "pwd", "token"},
			Severity: "high",
		},
		{
			ID:       "private-key",
			Pattern:  `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
			Severity: "high",
		},
		{
			ID:       "github-token",
			Pattern:  `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`,
			Severity: "high",
		},
		{
			ID:       "slack-token",
			Pattern:  `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity: "high",
		},
		{
			ID:       "nats-nkey-seed",
			Pattern:  `S[UONACX][A-Z2-7]{56}`,
			Severity: "high",
		},
		{
			ID:       "connection-url",
			Pattern:  `(?i)(?:postgres|mysql|mongodb|redis|amqp|nats)://[^:/\s]+:[^@\s]+@\S+`,
			Severity: "high",
		},
		{
			ID:       "jwt",
			Pattern:  `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			Severity: "medium",
		},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords: []string{"bearer"},
			Severity: "medium",
		},
	}
}
