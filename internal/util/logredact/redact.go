// Package logredact scrubs credentials from text destined for logs.
package logredact

import "regexp"

// Providers hand back bearer tokens, refresh tokens and client secrets in
// error bodies; none of them belong in log output.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`("(?:access_token|refresh_token|client_secret|id_token|api_key|apikey|authorization)"\s*:\s*")[^"]*(")`),
	regexp.MustCompile(`\b((?:access_token|refresh_token|client_secret|id_token|api_key|apikey|code|token)=)[^\s&"']+`),
	regexp.MustCompile(`(Bearer\s+)[A-Za-z0-9._~+/=-]+`),
}

// RedactText replaces recognizable credential values with "***".
func RedactText(s string) string {
	out := s
	for i, re := range redactPatterns {
		if i == 0 {
			out = re.ReplaceAllString(out, `$1***$2`)
			continue
		}
		out = re.ReplaceAllString(out, `$1***`)
	}
	return out
}
