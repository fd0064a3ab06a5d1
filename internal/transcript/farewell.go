package transcript

import "strings"

// DefaultFarewells are the phrases that end every session when spoken.
var DefaultFarewells = []string{"goodbye"}

// ContainsFarewell reports whether text contains any of phrases,
// ignoring case.
func ContainsFarewell(text string, phrases []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
