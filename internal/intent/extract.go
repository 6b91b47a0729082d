// ABOUTME: Pure field extraction from free-text setup replies
// ABOUTME: Returns partial field sets with per-field ambiguity, no state transitions here

package intent

import (
	"regexp"
	"strings"
)

// Field names collected during setup.
const (
	FieldName        = "name"
	FieldPurpose     = "purpose"
	FieldPersonality = "personality"
	FieldChannel     = "channel"
)

// Extraction is one extracted field value. Ambiguous is set when the text
// offered more than one plausible value and the caller should re-prompt.
type Extraction struct {
	Value     string
	Ambiguous bool
}

// FieldSet is the partial set of fields found in one utterance.
type FieldSet map[string]Extraction

var (
	quotedNameRe = regexp.MustCompile(`"([^"]{1,40})"|'([^']{1,40})'`)
	namePhraseRe = regexp.MustCompile(`(?i)(?:name(?:d)?\s+(?:is\s+|it\s+)?|call(?:ed)?\s+(?:it\s+|them\s+)?)([A-Za-z][A-Za-z0-9 _-]{0,39})`)

	purposePhraseRe = regexp.MustCompile(`(?i)(?:purpose\s+is\s+|for\s+|handle\s+|handles\s+|do\s+|does\s+)([a-z][a-z ]{2,40})`)

	personalityWords = []string{"professional", "friendly", "witty", "concise", "formal", "brief", "warm", "playful"}

	channelWords = map[string]string{
		"telegram": "telegram",
		"sms":      "sms",
		"text":     "sms",
		"voice":    "voice",
		"call":     "voice",
		"phone":    "voice",
		"voip":     "voice",
		"email":    "email",
		"mail":     "email",
	}
)

// Extract pulls whatever setup fields it can from free text. It is pure:
// no side effects, deterministic for identical input, and safe on empty
// or arbitrary text. Missing fields are simply absent from the result.
func Extract(text string) FieldSet {
	fields := make(FieldSet)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fields
	}
	lower := strings.ToLower(trimmed)

	if name, ambiguous, ok := extractName(trimmed); ok {
		fields[FieldName] = Extraction{Value: name, Ambiguous: ambiguous}
	}
	if purpose, ok := extractPurpose(lower); ok {
		fields[FieldPurpose] = Extraction{Value: purpose}
	}
	if personality, ambiguous, ok := extractWord(lower, personalityWords); ok {
		fields[FieldPersonality] = Extraction{Value: personality, Ambiguous: ambiguous}
	}
	if channel, ambiguous, ok := extractChannel(lower); ok {
		fields[FieldChannel] = Extraction{Value: channel, Ambiguous: ambiguous}
	}
	return fields
}

func extractName(text string) (string, bool, bool) {
	if m := quotedNameRe.FindStringSubmatch(text); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		return strings.TrimSpace(name), false, true
	}
	if m := namePhraseRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), false, true
	}
	return "", false, false
}

func extractPurpose(lower string) (string, bool) {
	if m := purposePhraseRe.FindStringSubmatch(lower); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	for _, p := range []string{"sales", "support", "booking", "assistant", "marketing", "scheduling", "faq"} {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

func extractWord(lower string, candidates []string) (string, bool, bool) {
	var found []string
	for _, w := range candidates {
		if strings.Contains(lower, w) {
			found = append(found, w)
		}
	}
	switch len(found) {
	case 0:
		return "", false, false
	case 1:
		return found[0], false, true
	default:
		return found[0], true, true
	}
}

func extractChannel(lower string) (string, bool, bool) {
	seen := make(map[string]bool)
	var found []string
	for word, channel := range channelWords {
		if strings.Contains(lower, word) && !seen[channel] {
			seen[channel] = true
			found = append(found, channel)
		}
	}
	switch len(found) {
	case 0:
		return "", false, false
	case 1:
		return found[0], false, true
	default:
		// Map iteration order is random, keep the result deterministic.
		first := found[0]
		for _, c := range found[1:] {
			if c < first {
				first = c
			}
		}
		return first, true, true
	}
}
