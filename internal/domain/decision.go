package domain

import "strings"

// Action is the closed set of actions a decision may carry.
type Action string

const (
	// ActionModify starts or updates a design.
	ActionModify Action = "MODIFY"
	// ActionGenerate renders the current design.
	ActionGenerate Action = "GENERATE"
	// ActionReset discards the current design.
	ActionReset Action = "RESET"
	// ActionConverse replies without touching the design.
	ActionConverse Action = "CONVERSE"
)

// ParseAction normalizes a raw action string. The second return value is
// false when the string is not one of the four known actions.
func ParseAction(raw string) (Action, bool) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(raw))); a {
	case ActionModify, ActionGenerate, ActionReset, ActionConverse:
		return a, true
	default:
		return a, false
	}
}

// Decision is the structured action produced once per user turn by the
// decision model. TemplateID and Modifications only matter for MODIFY.
type Decision struct {
	Action        Action         `json:"action"`
	ResponseText  string         `json:"response_text"`
	TemplateID    string         `json:"template_uid,omitempty"`
	Modifications []Modification `json:"modifications,omitempty"`
}
