// ABOUTME: Tests for intent classification and field extraction
// ABOUTME: Verifies the classifier contract: one intent, bounded confidence, safe on any input

package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_SetupKeywords(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"I want to set up a bot", IntentStartSetup},
		{"connect my telegram", IntentStartSetup},
		{"help me configure this", IntentStartSetup},
		{"let's get started", IntentStartSetup},
		{"what is my balance?", IntentGeneralQuery},
		{"tell me a joke", IntentGeneralQuery},
		{"book a meeting for tomorrow", IntentGeneralQuery},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Classify(tt.text, Context{})
			assert.Equal(t, tt.want, got.Intent)
		})
	}
}

func TestClassify_StartSetupAboveThreshold(t *testing.T) {
	got := Classify("please set up a new bot for me", Context{})
	assert.Equal(t, IntentStartSetup, got.Intent)
	assert.GreaterOrEqual(t, got.Confidence, StartSetupThreshold)
}

func TestClassify_ExistingBotsWeakenSetupSignal(t *testing.T) {
	fresh := Classify("connect", Context{})
	established := Classify("connect", Context{HasBots: true})
	assert.Equal(t, IntentStartSetup, fresh.Intent)
	assert.Equal(t, IntentStartSetup, established.Intent)
	assert.Less(t, established.Confidence, fresh.Confidence)
	assert.Less(t, established.Confidence, StartSetupThreshold)
}

func TestClassify_ActiveSetupClaimsEveryTurn(t *testing.T) {
	// Even text that looks like a fresh setup request continues the session.
	got := Classify("set up telegram", Context{ActiveSetup: true})
	assert.Equal(t, IntentContinueSetup, got.Intent)

	got = Classify("Sales Bot", Context{ActiveSetup: true})
	assert.Equal(t, IntentContinueSetup, got.Intent)
}

func TestClassify_Contract(t *testing.T) {
	inputs := []string{
		"", "   ", "?", "!!!", "hello", "set up setup configure connect link",
		strings.Repeat("a", 10000), "\x00\x01\x02", "日本語のテキスト",
	}
	valid := map[Intent]bool{
		IntentStartSetup: true, IntentContinueSetup: true,
		IntentGeneralQuery: true, IntentUnknown: true,
	}
	for _, text := range inputs {
		for _, ctx := range []Context{{}, {ActiveSetup: true}, {HasBots: true}} {
			got := Classify(text, ctx)
			assert.True(t, valid[got.Intent], "intent %q for input %q", got.Intent, text)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		a := Classify("set up my telegram bot", Context{})
		b := Classify("set up my telegram bot", Context{})
		require.Equal(t, a, b)
	}
}

func TestExtract_Name(t *testing.T) {
	fields := Extract(`call it "Sales Bot"`)
	require.Contains(t, fields, FieldName)
	assert.Equal(t, "Sales Bot", fields[FieldName].Value)
	assert.False(t, fields[FieldName].Ambiguous)

	fields = Extract("the name is Alfred")
	require.Contains(t, fields, FieldName)
	assert.Equal(t, "Alfred", fields[FieldName].Value)
}

func TestExtract_PurposeAndPersonality(t *testing.T) {
	fields := Extract("it should be witty and handle sales")
	require.Contains(t, fields, FieldPersonality)
	assert.Equal(t, "witty", fields[FieldPersonality].Value)
	require.Contains(t, fields, FieldPurpose)
	assert.Equal(t, "sales", fields[FieldPurpose].Value)
}

func TestExtract_Channel(t *testing.T) {
	fields := Extract("telegram please")
	require.Contains(t, fields, FieldChannel)
	assert.Equal(t, "telegram", fields[FieldChannel].Value)
	assert.False(t, fields[FieldChannel].Ambiguous)

	// "text" and "sms" map to the same channel, not an ambiguity.
	fields = Extract("sms text messages")
	require.Contains(t, fields, FieldChannel)
	assert.Equal(t, "sms", fields[FieldChannel].Value)
	assert.False(t, fields[FieldChannel].Ambiguous)
}

func TestExtract_AmbiguousChannel(t *testing.T) {
	fields := Extract("either telegram or email works")
	require.Contains(t, fields, FieldChannel)
	assert.True(t, fields[FieldChannel].Ambiguous)

	// Deterministic pick despite map iteration.
	first := Extract("either telegram or email works")[FieldChannel].Value
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Extract("either telegram or email works")[FieldChannel].Value)
	}
}

func TestExtract_EmptyAndNoise(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("   "))
	assert.Empty(t, Extract("zzz qqq 123"))
}
