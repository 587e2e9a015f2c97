package conversation

import "testing"

func TestCanProceed_FieldGating(t *testing.T) {
	full := Lead{Name: "Ada", Email: "ada@example.com"}
	nameOnly := Lead{Name: "Ada"}
	empty := Lead{}

	tests := []struct {
		name    string
		current Stage
		next    Stage
		lead    Lead
		want    bool
	}{
		{"greeting to name collection, empty lead", StageGreeting, StageNameCollection, empty, true},
		{"name collection to email capture without name", StageNameCollection, StageEmailCapture, empty, false},
		{"name collection to email capture with name", StageNameCollection, StageEmailCapture, nameOnly, true},
		{"email capture to research without email", StageEmailCapture, StageBackgroundResearch, nameOnly, false},
		{"email capture to research with full lead", StageEmailCapture, StageBackgroundResearch, full, true},
		{"research to discovery with full lead", StageBackgroundResearch, StageProblemDiscovery, full, true},
		{"discovery to presentation with full lead", StageProblemDiscovery, StageSolutionPresentation, full, true},
		{"presentation to call to action with full lead", StageSolutionPresentation, StageCallToAction, full, true},
		{"call to action without email", StageSolutionPresentation, StageCallToAction, nameOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanProceed(tt.current, tt.next, tt.lead); got != tt.want {
				t.Errorf("CanProceed(%s, %s) = %v, want %v", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

// Every stage pair in declared order: the guard must return false exactly
// when a required field is missing.
func TestCanProceed_AllOrderedPairs(t *testing.T) {
	order := []Stage{
		StageGreeting, StageNameCollection, StageEmailCapture,
		StageBackgroundResearch, StageProblemDiscovery,
		StageSolutionPresentation, StageCallToAction,
	}
	leads := map[string]Lead{
		"":           {},
		"name":       {Name: "Ada"},
		"name+email": {Name: "Ada", Email: "ada@example.com"},
	}

	has := func(lead Lead, field string) bool {
		switch field {
		case FieldName:
			return lead.Name != ""
		case FieldEmail:
			return lead.Email != ""
		}
		return false
	}

	for i := 0; i < len(order)-1; i++ {
		current, next := order[i], order[i+1]
		for leadName, lead := range leads {
			want := true
			for _, f := range Requirements(next) {
				if !has(lead, f) {
					want = false
				}
			}
			if got := CanProceed(current, next, lead); got != want {
				t.Errorf("CanProceed(%s, %s) with lead %q = %v, want %v",
					current, next, leadName, got, want)
			}
		}
	}
}

func TestCanProceed_UnknownStage(t *testing.T) {
	lead := Lead{Name: "Ada", Email: "ada@example.com"}
	if CanProceed(StageGreeting, Stage("onboarding"), lead) {
		t.Error("unknown target stage must be rejected")
	}
	if CanProceed(Stage("bogus"), StageNameCollection, lead) {
		t.Error("unknown current stage must be rejected")
	}
}

func TestNextStage_WalksDeclaredOrder(t *testing.T) {
	got := []Stage{StageGreeting}
	s := StageGreeting
	for {
		next, ok := NextStage(s)
		if !ok {
			break
		}
		got = append(got, next)
		s = next
	}

	want := []Stage{
		StageGreeting, StageNameCollection, StageEmailCapture,
		StageBackgroundResearch, StageProblemDiscovery,
		StageSolutionPresentation, StageCallToAction,
	}
	if len(got) != len(want) {
		t.Fatalf("walked %d stages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, got[i], want[i])
		}
	}

	if _, ok := NextStage(StageCallToAction); ok {
		t.Error("final stage must have no successor")
	}
}
