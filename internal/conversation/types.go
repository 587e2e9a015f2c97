package conversation

import "time"

// Lead identifies the visitor. Email is the stable identity key once
// captured; both fields are mutable until then.
type Lead struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Company is an optional enrichment record populated by grounding lookups.
type Company struct {
	Name     string `json:"name,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// Person is an optional enrichment record for the visitor themselves.
type Person struct {
	FullName  string `json:"fullName,omitempty"`
	Seniority string `json:"seniority,omitempty"`
}

// Intent is the last-detected conversational intent.
type Intent struct {
	Type  string            `json:"type"`
	Slots map[string]string `json:"slots,omitempty"`
}

// CapabilityUse records one tool invocation in the session. The list is
// append-only; repeats signal re-use and are kept.
type CapabilityUse struct {
	Name    string    `json:"name"`
	Summary string    `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// Snapshot is a session's accumulated understanding of the visitor.
//
// It is mutated by the chat pipeline (intent/role/stage updates) and by
// the tool gateway (capability/company/person updates), and deleted on
// explicit session end or TTL expiry.
type Snapshot struct {
	Lead           Lead            `json:"lead"`
	Capabilities   []CapabilityUse `json:"capabilities,omitempty"`
	Role           string          `json:"role,omitempty"`
	RoleConfidence float64         `json:"roleConfidence,omitempty"`
	Company        *Company        `json:"company,omitempty"`
	Person         *Person         `json:"person,omitempty"`
	Intent         *Intent         `json:"intent,omitempty"`
	Stage          Stage           `json:"stage"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewSnapshot returns the empty skeleton created on a session's first
// message.
func NewSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		Stage:     StageGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can mutate
// freely without racing against concurrent requests for the same session.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Capabilities != nil {
		cp.Capabilities = make([]CapabilityUse, len(s.Capabilities))
		copy(cp.Capabilities, s.Capabilities)
	}
	if s.Company != nil {
		company := *s.Company
		cp.Company = &company
	}
	if s.Person != nil {
		person := *s.Person
		cp.Person = &person
	}
	if s.Intent != nil {
		intent := Intent{Type: s.Intent.Type}
		if s.Intent.Slots != nil {
			intent.Slots = make(map[string]string, len(s.Intent.Slots))
			for k, v := range s.Intent.Slots {
				intent.Slots[k] = v
			}
		}
		cp.Intent = &intent
	}
	return &cp
}

// RecordCapability appends a capability use. Deduplication is deliberately
// not performed.
func (s *Snapshot) RecordCapability(name, summary string, at time.Time) {
	s.Capabilities = append(s.Capabilities, CapabilityUse{
		Name:    name,
		Summary: summary,
		At:      at,
	})
	s.UpdatedAt = at
}
