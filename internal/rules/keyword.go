package rules

import "strings"

// MatchMode selects how a keyword is tested against inbound text.
type MatchMode string

const (
	MatchContains   MatchMode = "contains"
	MatchExact      MatchMode = "exact"
	MatchStartsWith MatchMode = "starts_with"
)

// Valid accepts the empty mode, which behaves as contains.
func (m MatchMode) Valid() bool {
	switch m {
	case "", MatchContains, MatchExact, MatchStartsWith:
		return true
	}
	return false
}

// MatchKeyword reports whether text matches any keyword under mode, ignoring case
// and surrounding whitespace.
func MatchKeyword(text string, keywords []string, mode MatchMode) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		var ok bool
		switch mode {
		case MatchExact:
			ok = text == kw
		case MatchStartsWith:
			ok = strings.HasPrefix(text, kw)
		default:
			ok = strings.Contains(text, kw)
		}
		if ok {
			return true
		}
	}
	return false
}
