package types

import "fmt"

// ActionKind identifies one browser action the model may propose.
type ActionKind string

const (
	ActionClick   ActionKind = "click"
	ActionFill    ActionKind = "fill"
	ActionSelect  ActionKind = "select"
	ActionPress   ActionKind = "press"
	ActionHover   ActionKind = "hover"
	ActionScroll  ActionKind = "scroll"
	ActionBack    ActionKind = "back"
	ActionForward ActionKind = "forward"
	ActionGoto    ActionKind = "goto"
	ActionWait    ActionKind = "wait"
	ActionExtract ActionKind = "extract"
	ActionDone    ActionKind = "done"
)

// Action is a single model-proposed browser step. Ref addresses an element
// by its snapshot ref id (e.g. "E14"); Value carries kind-specific input
// such as fill text or wait milliseconds.
type Action struct {
	Kind  ActionKind `json:"action"`
	Ref   string     `json:"ref,omitempty"`
	Value string     `json:"value,omitempty"`
}

// Signature returns a stable identity for repeated-action detection:
// two actions with the same signature are considered identical.
func (a Action) Signature() string {
	return fmt.Sprintf("%s|%s|%s", a.Kind, a.Ref, a.Value)
}

func (a Action) String() string {
	s := string(a.Kind)
	if a.Ref != "" {
		s += " ref=" + a.Ref
	}
	if a.Value != "" {
		v := a.Value
		if len(v) > 60 {
			v = v[:60] + "..."
		}
		s += " value=" + fmt.Sprintf("%q", v)
	}
	return s
}

// ActionResult is the browser's report after executing an action.
// Success=false with a nil error means the action ran but reported failure
// (e.g. a click that hit an overlay); the message is already model-facing.
type ActionResult struct {
	Success bool
	Message string
	// Extracted holds data pulled from the page for extract actions.
	Extracted string
}
