package chat

import (
	"regexp"
	"strings"
)

// Deterministic keyword heuristics applied to the latest user message
// after each successful stream. They only ever add to the snapshot; a
// message with no signal leaves previous detections in place.

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// namePatterns capture self-introductions. The lead-in is matched
// case-insensitively, but the name itself must be capitalized so filler
// words after a bare first name are not swept in.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i:\bmy name is\s+)([A-Z][a-zA-Z\-']{0,30}(?:\s+[A-Z][a-zA-Z\-']{1,30})?)`),
	regexp.MustCompile(`(?i:\bi am\s+)([A-Z][a-zA-Z\-']{1,30}(?:\s+[A-Z][a-zA-Z\-']{1,30})?)`),
	regexp.MustCompile(`(?i:\bi'm\s+)([A-Z][a-zA-Z\-']{1,30}(?:\s+[A-Z][a-zA-Z\-']{1,30})?)`),
	regexp.MustCompile(`(?i:\bthis is\s+)([A-Z][a-zA-Z\-']{1,30}(?:\s+[A-Z][a-zA-Z\-']{1,30})?)`),
}

// Detected intents, coarsest useful granularity.
const (
	IntentPricing    = "pricing"
	IntentBooking    = "booking"
	IntentCapability = "capability"
	IntentGreeting   = "greeting"
)

var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentPricing, []string{"price", "pricing", "cost", "how much", "budget", "rate"}},
	{IntentBooking, []string{"meeting", "schedule", "book a call", "appointment", "calendar", "talk to someone"}},
	{IntentCapability, []string{"can you", "what do you do", "demo", "show me", "capabilities", "services"}},
	{IntentGreeting, []string{"hello", "hi ", "hey", "good morning", "good afternoon"}},
}

var roleKeywords = []struct {
	role       string
	confidence float64
	keywords   []string
}{
	{"founder", 0.9, []string{"founder", "ceo", "co-founder", "my company", "my startup"}},
	{"technical", 0.8, []string{"cto", "engineer", "developer", "technical lead", "architect"}},
	{"operations", 0.7, []string{"coo", "operations", "ops manager", "logistics"}},
	{"marketing", 0.7, []string{"cmo", "marketing", "growth", "brand"}},
}

// detectIntent returns the first matching intent, or "".
func detectIntent(message string) string {
	m := strings.ToLower(message)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(m, kw) {
				return group.intent
			}
		}
	}
	return ""
}

// detectRole returns the first matching role with its confidence, or "".
func detectRole(message string) (string, float64) {
	m := strings.ToLower(message)
	for _, group := range roleKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(m, kw) {
				return group.role, group.confidence
			}
		}
	}
	return "", 0
}

// extractEmail returns the first email address in the message, or "".
func extractEmail(message string) string {
	return emailPattern.FindString(message)
}

// extractName returns a self-introduced name, or "".
func extractName(message string) string {
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(message); m != nil {
			name := strings.TrimSpace(m[1])
			// Trim trailing filler captured by the greedy name class.
			if i := strings.IndexAny(name, ",.!?;:"); i >= 0 {
				name = strings.TrimSpace(name[:i])
			}
			if name != "" {
				return name
			}
		}
	}
	return ""
}

// latestUserMessage returns the content of the last user-role message.
func latestUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
