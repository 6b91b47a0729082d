// ABOUTME: Rule-based intent classification for inbound conversation text
// ABOUTME: Deterministic keyword scoring over a closed intent enumeration

package intent

import (
	"strings"
)

// Intent is one of the closed set of conversation intents.
type Intent string

const (
	IntentStartSetup    Intent = "start_setup"
	IntentContinueSetup Intent = "continue_setup"
	IntentGeneralQuery  Intent = "general_query"
	IntentUnknown       Intent = "unknown"
)

// StartSetupThreshold is the minimum confidence at which a start_setup
// classification actually opens a setup session.
const StartSetupThreshold = 0.6

// Context carries conversation state that influences classification.
type Context struct {
	// ActiveSetup is true when the conversation has a non-terminal setup session.
	ActiveSetup bool
	// HasBots is true when the tenant already has at least one active bot.
	HasBots bool
}

// Result is the classification outcome: exactly one intent and a bounded confidence.
type Result struct {
	Intent     Intent
	Confidence float64
}

var setupKeywords = []string{
	"set up", "setup", "configure", "connect", "link",
	"integrate", "install", "enable", "activate",
	"new bot", "create a bot", "add a bot", "get started", "onboard",
}

var queryKeywords = []string{
	"help", "how do i", "how to", "what can you", "explain",
	"balance", "credits", "billing", "plan",
	"send", "find", "create", "book", "write", "show", "tell me",
}

// Classify maps free text to an intent with a confidence score. The same
// text and context always produce the same result. Empty or arbitrary
// input never panics: it falls through to unknown.
func Classify(text string, ctx Context) Result {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Result{Intent: IntentUnknown, Confidence: 1.0}
	}

	// An open setup session claims every turn until it terminates.
	if ctx.ActiveSetup {
		return Result{Intent: IntentContinueSetup, Confidence: 0.95}
	}

	if hits := countHits(lower, setupKeywords); hits > 0 {
		conf := 0.7 + 0.1*float64(hits-1)
		if conf > 0.95 {
			conf = 0.95
		}
		// Tenants with a running bot mention "connect" and friends in
		// ordinary traffic too, so the signal is weaker for them.
		if ctx.HasBots {
			conf -= 0.2
		}
		return Result{Intent: IntentStartSetup, Confidence: conf}
	}

	if countHits(lower, queryKeywords) > 0 || strings.ContainsRune(lower, '?') {
		return Result{Intent: IntentGeneralQuery, Confidence: 0.8}
	}

	if containsLetter(lower) {
		return Result{Intent: IntentGeneralQuery, Confidence: 0.5}
	}
	return Result{Intent: IntentUnknown, Confidence: 0.7}
}

func countHits(lower string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

func containsLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || r > 127 {
			return true
		}
	}
	return false
}
