package gateway

import (
	"encoding/json"
	"regexp"
)

// summaryMaxLen bounds the redacted summary stored on the context
// snapshot; capability records are hints, not transcripts.
const summaryMaxLen = 120

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// redactSummary produces a short, email-free description of a tool call
// for capability recording.
func redactSummary(input json.RawMessage, output any) string {
	s := string(input)
	if out, err := json.Marshal(output); err == nil && len(out) > 2 {
		s += " -> " + string(out)
	}

	s = emailPattern.ReplaceAllString(s, "***@***")
	if len(s) > summaryMaxLen {
		s = s[:summaryMaxLen] + "..."
	}
	return s
}
