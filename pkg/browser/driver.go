package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/mozilla/pilo-sub005/pkg/logging"
	"github.com/mozilla/pilo-sub005/pkg/snapshot"
	"github.com/mozilla/pilo-sub005/pkg/task"
	"github.com/mozilla/pilo-sub005/pkg/types"
)

// scrollStep is how far one scroll action moves, in px.
const scrollStep = 600

// Driver implements task.Driver on a live session. Refs are allocated from
// one counter for the driver's lifetime, so they stay unique across every
// snapshot of the session.
type Driver struct {
	session    *Session
	refs       *snapshot.RefCounter
	compressor *snapshot.Compressor
	log        *logging.Logger

	// refFrames remembers which frame each live ref was stamped into.
	refFrames map[string]playwright.Frame
	// actionTimeout bounds element interactions, in ms.
	actionTimeout float64
	compress      bool
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithCompressor replaces the default snapshot compressor.
func WithCompressor(c *snapshot.Compressor) DriverOption {
	return func(d *Driver) { d.compressor = c }
}

// WithActionTimeout sets the per-action timeout.
func WithActionTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) { d.actionTimeout = float64(timeout.Milliseconds()) }
}

// WithCompression toggles snapshot compression. On by default.
func WithCompression(enabled bool) DriverOption {
	return func(d *Driver) { d.compress = enabled }
}

// NewDriver wraps a session in the task-facing driver interface.
func NewDriver(session *Session, opts ...DriverOption) *Driver {
	log, err := logging.NewLogger("browser")
	if err != nil {
		log.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}

	d := &Driver{
		session:       session,
		refs:          snapshot.NewRefCounter(),
		compressor:    snapshot.NewCompressor(),
		log:           log,
		refFrames:     make(map[string]playwright.Frame),
		actionTimeout: DefaultTimeout,
		compress:      true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Navigate loads the URL and waits for the load event up to timeout.
func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := d.session.Page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		if isTimeout(err) {
			return task.NewNavigationTimeoutError(url, timeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	d.session.CurrentURL = d.session.Page.URL()
	return nil
}

// WaitForLoadState blocks until the page reaches the given lifecycle state
// ("load", "domcontentloaded", or "networkidle"), bounded by the action
// timeout.
func (d *Driver) WaitForLoadState(ctx context.Context, state string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var ls *playwright.LoadState
	switch state {
	case "domcontentloaded":
		ls = playwright.LoadStateDomcontentloaded
	case "networkidle":
		ls = playwright.LoadStateNetworkidle
	case "load", "":
		ls = playwright.LoadStateLoad
	default:
		return fmt.Errorf("unknown load state %q", state)
	}
	return d.session.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   ls,
		Timeout: playwright.Float(d.actionTimeout),
	})
}

// Snapshot captures every reachable frame, builds one semantic tree with
// same-origin frames spliced in, renders it with fresh refs, stamps those
// refs back onto the live DOM, and returns the compressed outline.
func (d *Driver) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Best-effort settle wait: a page streaming requests forever still gets
	// captured once the timeout passes.
	if err := d.WaitForLoadState(ctx, "networkidle"); err != nil && !isTimeout(err) {
		d.log.Warnf("load state wait before capture failed: %v", err)
	}

	captures := captureFrames(d.session.Page)
	main := mainCapture(d.session.Page, captures)
	if main == nil {
		return "", fmt.Errorf("failed to capture the main frame")
	}
	main.used = true

	tree := snapshot.Build(main.doc, snapshot.BuildOptions{
		Frames: frameResolver(captures, main.url),
	})
	rendered := snapshot.Render(tree, d.refs)

	for capture, assignments := range groupAssignments(tree, rendered.Refs, captures) {
		args := make([]map[string]interface{}, 0, len(assignments))
		for _, a := range assignments {
			args = append(args, map[string]interface{}{"nid": a.Nid, "ref": a.Ref, "role": a.Role})
			d.refFrames[a.Ref] = capture.frame
		}
		if _, err := capture.frame.Evaluate(stampScript, args); err != nil {
			d.log.Warnf("failed to stamp refs into frame %s: %v", capture.url, err)
		}
	}

	if !d.compress {
		return rendered.Text, nil
	}
	out, stats := d.compressor.CompressWithStats(rendered.Text)
	d.log.Debugf("snapshot: %d refs, %d lines removed, ratio %.2f",
		len(rendered.Refs), stats.LinesRemoved, stats.Ratio)
	return out, nil
}

// Perform executes one validated action. Failures that the model can act
// on come back as recoverable task errors; anything else is infrastructure.
func (d *Driver) Perform(ctx context.Context, action types.Action) (*types.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch action.Kind {
	case types.ActionClick:
		return d.onTarget(action, func(loc playwright.Locator) error {
			return loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(d.actionTimeout)})
		})
	case types.ActionFill:
		return d.onTarget(action, func(loc playwright.Locator) error {
			return loc.Fill(action.Value, playwright.LocatorFillOptions{Timeout: playwright.Float(d.actionTimeout)})
		})
	case types.ActionSelect:
		return d.onTarget(action, func(loc playwright.Locator) error {
			_, err := loc.SelectOption(playwright.SelectOptionValues{
				ValuesOrLabels: &[]string{action.Value},
			}, playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(d.actionTimeout)})
			return err
		})
	case types.ActionHover:
		return d.onTarget(action, func(loc playwright.Locator) error {
			return loc.Hover(playwright.LocatorHoverOptions{Timeout: playwright.Float(d.actionTimeout)})
		})
	case types.ActionPress:
		return d.press(action)
	case types.ActionScroll:
		return d.scroll(action)
	case types.ActionBack:
		_, err := d.session.Page.GoBack()
		return d.navResult("went back", action, err)
	case types.ActionForward:
		_, err := d.session.Page.GoForward()
		return d.navResult("went forward", action, err)
	case types.ActionWait:
		ms, _ := strconv.Atoi(action.Value)
		d.session.Page.WaitForTimeout(float64(ms))
		return &types.ActionResult{Success: true, Message: fmt.Sprintf("waited %dms", ms)}, nil
	case types.ActionExtract:
		return d.extract(action)
	default:
		return nil, task.NewActionFailedError(action.String(), fmt.Errorf("unsupported action kind"))
	}
}

// onTarget resolves the action's ref to its live element and runs op on it.
func (d *Driver) onTarget(action types.Action, op func(playwright.Locator) error) (*types.ActionResult, error) {
	loc, err := d.locate(action.Ref)
	if err != nil {
		return nil, err
	}
	if err := op(loc); err != nil {
		if isTimeout(err) {
			return nil, task.NewElementNotFoundError(action.Ref)
		}
		return nil, task.NewActionFailedError(action.String(), err)
	}
	d.session.CurrentURL = d.session.Page.URL()
	return &types.ActionResult{Success: true, Message: fmt.Sprintf("%s succeeded", action.Kind)}, nil
}

// locate builds a locator for the ref in the frame it was stamped into.
// Playwright selectors pierce open shadow roots, so one attribute selector
// reaches composed elements too.
func (d *Driver) locate(ref string) (playwright.Locator, error) {
	selector := fmt.Sprintf(`[%s=%q]`, snapshot.AttrRef, ref)
	if frame, ok := d.refFrames[ref]; ok {
		return frame.Locator(selector), nil
	}
	return nil, task.NewInvalidRefError(ref)
}

func (d *Driver) press(action types.Action) (*types.ActionResult, error) {
	if action.Ref != "" {
		return d.onTarget(action, func(loc playwright.Locator) error {
			return loc.Press(action.Value, playwright.LocatorPressOptions{Timeout: playwright.Float(d.actionTimeout)})
		})
	}
	if err := d.session.Page.Keyboard().Press(action.Value); err != nil {
		return nil, task.NewActionFailedError(action.String(), err)
	}
	return &types.ActionResult{Success: true, Message: "pressed " + action.Value}, nil
}

func (d *Driver) scroll(action types.Action) (*types.ActionResult, error) {
	var err error
	switch action.Value {
	case "up":
		err = d.session.Page.Mouse().Wheel(0, -scrollStep)
	case "down":
		err = d.session.Page.Mouse().Wheel(0, scrollStep)
	case "top":
		_, err = d.session.Page.Evaluate(`() => window.scrollTo(0, 0)`)
	case "bottom":
		_, err = d.session.Page.Evaluate(`() => window.scrollTo(0, document.body.scrollHeight)`)
	}
	if err != nil {
		return nil, task.NewActionFailedError(action.String(), err)
	}
	return &types.ActionResult{Success: true, Message: "scrolled " + action.Value}, nil
}

func (d *Driver) extract(action types.Action) (*types.ActionResult, error) {
	text, err := d.session.Page.Locator("body").InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(d.actionTimeout),
	})
	if err != nil {
		return nil, task.NewActionFailedError(action.String(), err)
	}
	return &types.ActionResult{
		Success:   true,
		Message:   "extracted page text",
		Extracted: text,
	}, nil
}

func (d *Driver) navResult(message string, action types.Action, err error) (*types.ActionResult, error) {
	if err != nil {
		return nil, task.NewActionFailedError(action.String(), err)
	}
	d.session.CurrentURL = d.session.Page.URL()
	return &types.ActionResult{Success: true, Message: message}, nil
}

// isTimeout reports whether a Playwright failure was a timeout.
func isTimeout(err error) bool {
	var pwErr *playwright.Error
	if errors.As(err, &pwErr) {
		return pwErr.Name == "TimeoutError"
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
