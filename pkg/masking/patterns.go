package masking

import "regexp"

// pattern is a pre-compiled regex rule: anything it matches in outbound
// text is replaced with a vault placeholder before the text reaches the
// Generator Adapter. Adapted from the teacher's builtin masking pattern
// table (pkg/config/builtin.go, initBuiltinMaskingPatterns) minus the
// MCP-server pattern-group/custom-pattern machinery, which has no
// equivalent here: there is one fixed set of patterns, not one per
// registered server.
type pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// builtinPatterns returns the fixed set of regex rules applied to every
// piece of outbound text, most specific first so a more general pattern
// (token) doesn't consume a match a more specific one (github_token)
// would otherwise have claimed.
func builtinPatterns() []*pattern {
	raw := []struct {
		name string
		expr string
	}{
		{"aws_access_key", `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`},
		{"aws_secret_key", `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`},
		{"github_token", `(?i)(?:ghp|ghs|gho|ghu|ghr)_[A-Za-z0-9_]{36,255}`},
		{"slack_token", `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`},
		{"connection_string", `(?i)\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s"']+`},
		{"certificate", `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`},
		{"ssh_key", `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`},
		{"private_key", `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`},
		{"secret_key", `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`},
		{"api_key", `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`},
		{"token", `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`},
		{"password", `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`},
	}

	out := make([]*pattern, 0, len(raw))
	for _, r := range raw {
		out = append(out, &pattern{Name: r.name, Regex: regexp.MustCompile(r.expr)})
	}
	return out
}
