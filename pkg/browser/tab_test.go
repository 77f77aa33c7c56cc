package browser

import (
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closeTrackingPage records Close calls; the embedded interface panics on
// anything else, which is exactly what these tests want.
type closeTrackingPage struct {
	playwright.Page
	closed int
}

func (p *closeTrackingPage) Close(_ ...playwright.PageCloseOptions) error {
	p.closed++
	return nil
}

func TestRunInTabClosesOnSuccess(t *testing.T) {
	page := &closeTrackingPage{}
	err := runInTab(page, func(playwright.Page) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, page.closed)
}

func TestRunInTabClosesOnError(t *testing.T) {
	page := &closeTrackingPage{}
	wantErr := errors.New("target page never loaded")
	err := runInTab(page, func(playwright.Page) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, page.closed)
}

func TestRunInTabClosesOnPanic(t *testing.T) {
	page := &closeTrackingPage{}
	assert.Panics(t, func() {
		_ = runInTab(page, func(playwright.Page) error { panic("tab work blew up") })
	})
	assert.Equal(t, 1, page.closed)
}
