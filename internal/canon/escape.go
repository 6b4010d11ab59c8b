package canon

import "strings"

// Escape escapes backslash, double-quote, newline, and carriage return in s
// before it is interpolated into a generated prompt template. This is a
// distinct, narrower rule than JSON string escaping: prompt templates are
// plain text, not JSON payloads.
func Escape(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return r.Replace(s)
}
