package prompts

import (
	"strings"
	"testing"
)

func TestSystemPrompt_InterpolatesName(t *testing.T) {
	got := SystemPrompt("Maeve")
	if !strings.Contains(got, "Maeve") {
		t.Error("system prompt missing child name")
	}

	fallback := SystemPrompt("")
	if !strings.Contains(fallback, "the baby") {
		t.Error("empty name should fall back to generic phrasing")
	}
}

func TestCurrentState_WrapsSummary(t *testing.T) {
	got := CurrentState("Sleep: awake")
	if !strings.Contains(got, "Sleep: awake") {
		t.Error("summary not embedded")
	}
	if !strings.Contains(got, "Current Tracked State") {
		t.Error("missing section header")
	}
}

func TestDoneClassifierTurn(t *testing.T) {
	got := DoneClassifierTurn("thanks", "You're welcome!")
	if !strings.Contains(got, `"thanks"`) || !strings.Contains(got, `"You're welcome!"`) {
		t.Errorf("turn text missing quotes: %q", got)
	}
}
