package types

// Action is the admission outcome for a single document
type Action string

const (
	ActionFull    Action = "full"
	ActionLimited Action = "limited"
	ActionSkip    Action = "skip"
)

// Valid reports whether the action is one of the known values
func (a Action) Valid() bool {
	switch a {
	case ActionFull, ActionLimited, ActionSkip:
		return true
	}
	return false
}

// ProcessingDecision records what the guardian decided for one path
type ProcessingDecision struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks the decision is well formed
func (d ProcessingDecision) Validate() error {
	if d.Path == "" {
		return ErrEmptyPath
	}
	if !d.Action.Valid() {
		return ErrInvalidAction
	}
	if d.Action == ActionSkip && d.Reason == "" {
		return ErrMissingReason
	}
	return nil
}

// ProcessingPlan is the ordered list of decisions for a run. It is never persisted.
type ProcessingPlan struct {
	Decisions []ProcessingDecision `json:"decisions"`
}

// AddFull appends a full-processing decision
func (p *ProcessingPlan) AddFull(path string) {
	p.Decisions = append(p.Decisions, ProcessingDecision{Path: path, Action: ActionFull})
}

// AddLimited appends a limited-processing decision
func (p *ProcessingPlan) AddLimited(path string) {
	p.Decisions = append(p.Decisions, ProcessingDecision{Path: path, Action: ActionLimited})
}

// AddSkip appends a skip decision with its reason
func (p *ProcessingPlan) AddSkip(path, reason string) {
	p.Decisions = append(p.Decisions, ProcessingDecision{Path: path, Action: ActionSkip, Reason: reason})
}

// Admitted returns the set of paths whose action is not skip
func (p *ProcessingPlan) Admitted() map[string]Action {
	out := make(map[string]Action, len(p.Decisions))
	for _, d := range p.Decisions {
		if d.Action != ActionSkip {
			out[d.Path] = d.Action
		}
	}
	return out
}

// Count returns how many decisions carry the given action
func (p *ProcessingPlan) Count(action Action) int {
	n := 0
	for _, d := range p.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}

// Mode selects which per-document pipeline variant runs
type Mode string

const (
	// ModeExtract classifies documents and extracts structured invoice data
	ModeExtract Mode = "extract"
	// ModeKnowledge extracts concepts, principles, and controversies into a graph
	ModeKnowledge Mode = "knowledge"
)

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExtract, ModeKnowledge:
		return Mode(s), nil
	case "":
		return ModeExtract, nil
	}
	return "", ErrUnknownVariant
}
