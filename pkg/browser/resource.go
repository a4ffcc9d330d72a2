package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/pageready/pkg/readiness"
)

// pageHandle is the part of playwright.Page the resource reads from.
type pageHandle interface {
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	Content() (string, error)
	IsClosed() bool
	URL() string
}

// PageResource exposes a Playwright page to the readiness detector.
type PageResource struct {
	page pageHandle
}

var _ readiness.PageResource = (*PageResource)(nil)

// NewPageResource wraps a Playwright page.
func NewPageResource(page playwright.Page) *PageResource {
	return &PageResource{page: page}
}

// Query evaluates the probe in the page. Playwright's Evaluate takes no
// context, so it runs on its own goroutine and is abandoned if ctx ends.
func (r *PageResource) Query(ctx context.Context, probe string) (string, error) {
	v, err := r.await(ctx, func() (interface{}, error) {
		return r.page.Evaluate(probe)
	})
	if err != nil {
		return "", r.classify("evaluate probe", err)
	}

	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

// Serialize returns the page's current HTML.
func (r *PageResource) Serialize(ctx context.Context) (string, error) {
	v, err := r.await(ctx, func() (interface{}, error) {
		return r.page.Content()
	})
	if err != nil {
		return "", r.classify("read content", err)
	}
	return v.(string), nil
}

// URL returns the page's current URL.
func (r *PageResource) URL() string {
	return r.page.URL()
}

func (r *PageResource) await(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if r.page.IsClosed() {
		return nil, readiness.ErrResourceUnavailable
	}

	type result struct {
		v   interface{}
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.v, res.err
	}
}

// classify marks errors from closed targets as unrecoverable.
func (r *PageResource) classify(op string, err error) error {
	if readiness.IsUnavailable(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, playwright.ErrTargetClosed) || r.page.IsClosed() {
		return fmt.Errorf("%s: %w: %w", op, readiness.ErrResourceUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
