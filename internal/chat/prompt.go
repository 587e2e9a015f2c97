package chat

import (
	"fmt"
	"strings"

	"github.com/conciergehq/concierge/internal/conversation"
	"github.com/conciergehq/concierge/internal/provider"
)

const basePrompt = `You are the concierge for a consulting firm that helps ` +
	`mid-market companies automate operations. Be concise, warm, and concrete. ` +
	`Never invent client references or pricing. When the visitor asks for ` +
	`numbers, offer the ROI calculator instead of guessing.`

// stageGuidance steers the model toward the current qualification goal.
var stageGuidance = map[conversation.Stage]string{
	conversation.StageGreeting:             "Greet the visitor and ask what brought them here.",
	conversation.StageNameCollection:       "Work the visitor's name into the conversation naturally.",
	conversation.StageEmailCapture:         "Ask for an email address so a consultant can follow up.",
	conversation.StageBackgroundResearch:   "Ask about their company and role to understand context.",
	conversation.StageProblemDiscovery:     "Dig into the operational problem they want solved.",
	conversation.StageSolutionPresentation: "Relate our automation services to their stated problem.",
	conversation.StageCallToAction:         "Offer to book a consultation call.",
}

// buildProviderRequest assembles the upstream request: a system prompt
// derived from the snapshot, plus the client's conversation history.
// Client-supplied system messages are folded into the system prompt
// rather than passed through as turns.
func buildProviderRequest(snap *conversation.Snapshot, messages []Message) provider.Request {
	var sys strings.Builder
	sys.WriteString(basePrompt)

	if g, ok := stageGuidance[snap.Stage]; ok {
		sys.WriteString("\n\nCurrent goal: " + g)
	}
	if snap.Lead.Name != "" {
		fmt.Fprintf(&sys, "\nThe visitor's name is %s.", snap.Lead.Name)
	}
	if snap.Company != nil && snap.Company.Name != "" {
		fmt.Fprintf(&sys, "\nThey work at %s.", snap.Company.Name)
		if snap.Company.Industry != "" {
			fmt.Fprintf(&sys, " Industry: %s.", snap.Company.Industry)
		}
	}
	if snap.Role != "" {
		fmt.Fprintf(&sys, "\nThey appear to be in a %s role.", snap.Role)
	}
	if snap.Intent != nil && snap.Intent.Type != "" {
		fmt.Fprintf(&sys, "\nLast detected interest: %s.", snap.Intent.Type)
	}

	req := provider.Request{Messages: make([]provider.Message, 0, len(messages))}
	for _, m := range messages {
		if m.Role == "system" {
			sys.WriteString("\n" + m.Content)
			continue
		}
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.Role(m.Role),
			Content: m.Content,
		})
	}
	req.System = sys.String()
	return req
}
