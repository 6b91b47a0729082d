// ABOUTME: Compiles collected setup fields into an immutable PromptConfig
// ABOUTME: Pure function of its inputs so repeated compilation is value-equal

package promptspec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteConfiguration indicates required fields were missing at
// compile time. This is an internal contract violation: the setup state
// machine must not request compilation before Connect completes.
var ErrIncompleteConfiguration = errors.New("incomplete configuration")

// PromptConfig is the compiled runtime configuration for one bot. It is a
// value type: two compilations from equal fields compare equal with ==.
type PromptConfig struct {
	Name         string
	Purpose      string
	Personality  string
	SystemPrompt string
}

// styleDescriptions maps a personality keyword to the phrasing used in
// the system prompt. Unknown personalities fall back to a neutral style.
var styleDescriptions = map[string]string{
	"formal":       "professional, formal, and business-like",
	"friendly":     "warm, friendly, and approachable",
	"brief":        "concise, brief, and to-the-point",
	"witty":        "clever and lightly humorous while staying on task",
	"concise":      "concise, brief, and to-the-point",
	"professional": "polished and businesslike",
	"warm":         "warm, friendly, and approachable",
	"playful":      "light-hearted and engaging",
}

const defaultStyle = "helpful and professional"

// requiredFields must all be present and non-blank before compilation.
var requiredFields = []string{"name", "purpose", "personality"}

// Compile builds a PromptConfig from the fields a setup session collected.
// Deterministic: equal inputs produce equal outputs.
func Compile(fields map[string]string) (PromptConfig, error) {
	var missing []string
	for _, key := range requiredFields {
		if strings.TrimSpace(fields[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return PromptConfig{}, fmt.Errorf("%w: missing %s", ErrIncompleteConfiguration, strings.Join(missing, ", "))
	}

	name := strings.TrimSpace(fields["name"])
	purpose := strings.TrimSpace(fields["purpose"])
	personality := strings.ToLower(strings.TrimSpace(fields["personality"]))

	style, ok := styleDescriptions[personality]
	if !ok {
		style = defaultStyle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", name)
	fmt.Fprintf(&b, "Communication style: %s\n", style)
	fmt.Fprintf(&b, "Your purpose: %s\n\n", purpose)
	b.WriteString("Guidelines:\n")
	b.WriteString("- Always be helpful, concise, and stay in character\n")
	b.WriteString("- If you cannot help with something, say so clearly and suggest alternatives\n")
	b.WriteString("- Users configure everything by talking to you; guide them naturally\n")
	b.WriteString("- Be proactive in suggesting next steps")

	return PromptConfig{
		Name:         name,
		Purpose:      purpose,
		Personality:  personality,
		SystemPrompt: b.String(),
	}, nil
}
