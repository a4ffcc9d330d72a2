// Package capture saves the final HTML of many pages. It opens each URL
// through an Opener, waits for it with the readiness detector and writes
// the result to disk.
package capture

import (
	"context"

	"github.com/entrhq/pageready/pkg/readiness"
)

// Page is an open tab that can be captured.
type Page interface {
	URL() string
	Capture(ctx context.Context, opts readiness.Options, sink readiness.CaptureSink) (*readiness.Session, error)
	Close() error
}

// Opener loads a URL into a fresh Page.
type Opener interface {
	Open(ctx context.Context, url string) (Page, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) (Page, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) (Page, error) {
	return f(ctx, url)
}
