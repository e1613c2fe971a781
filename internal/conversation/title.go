package conversation

import (
	"strings"
	"unicode"
)

// maxTitleLen caps the sanitized title, in runes.
const maxTitleLen = 50

// SanitizeTitle turns a model-generated title into a file name stem. It
// keeps the first line, drops surrounding quotes, removes characters
// that are invalid in file names and joins words with underscores.
func SanitizeTitle(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), "\"'`“”‘’*")

	var sb strings.Builder
	underscore := false
	for _, r := range s {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), r == '[' || r == ']' || r == '#' || r == '^':
			continue
		case unicode.IsSpace(r) || r == '_':
			if !underscore && sb.Len() > 0 {
				sb.WriteRune('_')
				underscore = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			underscore = false
		}
	}
	out := strings.Trim(sb.String(), "_.")
	if runes := []rune(out); len(runes) > maxTitleLen {
		out = strings.Trim(string(runes[:maxTitleLen]), "_.")
	}
	return out
}
