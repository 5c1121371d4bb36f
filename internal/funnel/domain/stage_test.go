package domain

import "testing"

func TestNormalizeStageBusinessLabels(t *testing.T) {
	cases := map[string]Stage{
		"nuevos":        StageNew,
		"Nuevos":        StageNew,
		"prospectando":  StageProspecting,
		"PROSPECTANDO":  StageProspecting,
		"calificacion":  StageQualification,
		"calificación":  StageQualification,
		"Calificación":  StageQualification,
		"oportunidad":   StageOpportunity,
		"confirmado":    StageConfirmed,
		"cerrado":       StageClosed,
		"new":           StageNew,
		"opportunity":   StageOpportunity,
		" confirmado ":  StageConfirmed,
	}

	for label, want := range cases {
		if got := NormalizeStage(label); got != want {
			t.Fatalf("NormalizeStage(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestNormalizeStageIsFixedPoint(t *testing.T) {
	inputs := []string{
		"nuevos", "prospectando", "calificación", "oportunidad",
		"confirmado", "cerrado",
		"new", "prospecting", "qualification", "opportunity", "confirmed", "closed",
		"experimental_stage", "", "Piloto",
	}

	for _, input := range inputs {
		once := NormalizeStage(input)
		twice := NormalizeStage(string(once))
		if once != twice {
			t.Fatalf("NormalizeStage not a fixed point for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestNormalizeStageUnknownLabelPassesThrough(t *testing.T) {
	if got := NormalizeStage("piloto_beta"); got != Stage("piloto_beta") {
		t.Fatalf("expected unknown label to pass through, got %q", got)
	}
	if IsKnownStage(Stage("piloto_beta")) {
		t.Fatal("unknown label must not be reported as a known stage")
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(StageConfirmed) || !IsTerminal(StageClosed) {
		t.Fatal("confirmed and closed must be terminal")
	}
	for _, s := range []Stage{StageNew, StageProspecting, StageQualification, StageOpportunity} {
		if IsTerminal(s) {
			t.Fatalf("linear stage %q must not be terminal", s)
		}
	}
}

func TestLinearPosition(t *testing.T) {
	order := []Stage{StageNew, StageProspecting, StageQualification, StageOpportunity}
	prev := -1
	for _, s := range order {
		pos, ok := LinearPosition(s)
		if !ok {
			t.Fatalf("expected %q to have a linear position", s)
		}
		if pos <= prev {
			t.Fatalf("expected strictly increasing positions, got %d after %d", pos, prev)
		}
		prev = pos
	}

	if _, ok := LinearPosition(StageConfirmed); ok {
		t.Fatal("terminal stages must not have a linear position")
	}
}
