package conversation

// Stage is a point in the scripted lead-qualification flow.
type Stage string

// Qualification stages, in required order.
const (
	StageGreeting             Stage = "greeting"
	StageNameCollection       Stage = "name_collection"
	StageEmailCapture         Stage = "email_capture"
	StageBackgroundResearch   Stage = "background_research"
	StageProblemDiscovery     Stage = "problem_discovery"
	StageSolutionPresentation Stage = "solution_presentation"
	StageCallToAction         Stage = "call_to_action"
)

// stageOrder maps each stage to its position in the flow.
var stageOrder = map[Stage]int{
	StageGreeting:             0,
	StageNameCollection:       1,
	StageEmailCapture:         2,
	StageBackgroundResearch:   3,
	StageProblemDiscovery:     4,
	StageSolutionPresentation: 5,
	StageCallToAction:         6,
}

// Lead field names used in stage prerequisites.
const (
	FieldName  = "name"
	FieldEmail = "email"
)

// stagePrereqs declares the lead fields that must already be populated
// before a stage may be entered.
var stagePrereqs = map[Stage][]string{
	StageGreeting:             nil,
	StageNameCollection:       nil,
	StageEmailCapture:         {FieldName},
	StageBackgroundResearch:   {FieldName, FieldEmail},
	StageProblemDiscovery:     {FieldName, FieldEmail},
	StageSolutionPresentation: {FieldName, FieldEmail},
	StageCallToAction:         {FieldName, FieldEmail},
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Requirements returns the lead fields required to enter the stage.
// Unknown stages have no requirements; CanProceed rejects them anyway.
func Requirements(next Stage) []string {
	reqs := stagePrereqs[next]
	out := make([]string, len(reqs))
	copy(out, reqs)
	return out
}

// CanProceed reports whether a conversation may advance from current to
// next given the currently known lead fields.
//
// This is a soft gate: callers that receive false stay on the current
// stage rather than erroring. There is no automatic forward progression;
// the chat pipeline decides when to attempt a transition based on detected
// intent.
func CanProceed(current, next Stage, lead Lead) bool {
	if !current.Valid() || !next.Valid() {
		return false
	}
	for _, field := range stagePrereqs[next] {
		switch field {
		case FieldName:
			if lead.Name == "" {
				return false
			}
		case FieldEmail:
			if lead.Email == "" {
				return false
			}
		}
	}
	return true
}

// NextStage returns the stage following s in the declared order, and false
// when s is the final stage or unknown.
func NextStage(s Stage) (Stage, bool) {
	idx, ok := stageOrder[s]
	if !ok {
		return s, false
	}
	for stage, i := range stageOrder {
		if i == idx+1 {
			return stage, true
		}
	}
	return s, false
}
