package task

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mozilla/pilo-sub005/pkg/types"
)

var refPattern = regexp.MustCompile(`^E[1-9][0-9]*$`)

// Validator checks a proposed action before it touches the browser.
// Structural checks catch malformed actions; contextual checks catch refs
// that do not exist in the snapshot the model was shown.
type Validator struct{}

// Validate runs structural validation, then verifies the ref against the
// snapshot text. A ref is valid only if the exact "[ref=Ek]" marker appears
// in the snapshot, which survives compression by construction.
func (v Validator) Validate(action *types.Action, snapshot string) error {
	if err := v.validateStructure(action); err != nil {
		return err
	}
	if action.Ref != "" && !strings.Contains(snapshot, "[ref="+action.Ref+"]") {
		return NewInvalidRefError(action.Ref)
	}
	return nil
}

func (v Validator) validateStructure(action *types.Action) error {
	switch action.Kind {
	case types.ActionClick, types.ActionHover:
		return v.requireRef(action)
	case types.ActionFill, types.ActionSelect:
		if err := v.requireRef(action); err != nil {
			return err
		}
		if action.Kind == types.ActionSelect && action.Value == "" {
			return NewMalformedActionError(fmt.Errorf("select requires a value"))
		}
		return nil
	case types.ActionPress:
		if action.Value == "" {
			return NewMalformedActionError(fmt.Errorf("press requires a key value such as %q", "Enter"))
		}
		return nil
	case types.ActionScroll:
		switch action.Value {
		case "up", "down", "top", "bottom":
			return nil
		default:
			return NewMalformedActionError(fmt.Errorf("scroll value must be up, down, top, or bottom"))
		}
	case types.ActionGoto:
		u, err := url.Parse(action.Value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return NewMalformedActionError(fmt.Errorf("goto requires an absolute http(s) URL, got %q", action.Value))
		}
		return nil
	case types.ActionWait:
		ms, err := strconv.Atoi(action.Value)
		if err != nil || ms <= 0 || ms > 30000 {
			return NewMalformedActionError(fmt.Errorf("wait value must be milliseconds between 1 and 30000"))
		}
		return nil
	case types.ActionBack, types.ActionForward, types.ActionExtract:
		return v.prohibitRefAndValue(action)
	case types.ActionDone:
		// Value carries the declared result summary; a ref is meaningless.
		if action.Ref != "" {
			return NewMalformedActionError(fmt.Errorf("done does not take a ref"))
		}
		return nil
	case "":
		return NewMalformedActionError(fmt.Errorf("action kind is missing"))
	default:
		return NewMalformedActionError(fmt.Errorf("unknown action kind %q", action.Kind))
	}
}

func (v Validator) prohibitRefAndValue(action *types.Action) error {
	if action.Ref != "" {
		return NewMalformedActionError(fmt.Errorf("%s does not take a ref", action.Kind))
	}
	if action.Value != "" {
		return NewMalformedActionError(fmt.Errorf("%s does not take a value", action.Kind))
	}
	return nil
}

func (v Validator) requireRef(action *types.Action) error {
	if action.Ref == "" {
		return NewMalformedActionError(fmt.Errorf("%s requires a ref", action.Kind))
	}
	if !refPattern.MatchString(action.Ref) {
		return NewMalformedActionError(fmt.Errorf("ref %q is not a valid snapshot ref", action.Ref))
	}
	return nil
}
