// Package rawimport pulls remote disk images (raw, optionally XZ-compressed,
// optionally QCOW2-contained) into a content-addressed local cache and,
// on request, materializes a writable named copy alongside it.
package rawimport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Result is delivered for every Pull that reaches a terminal state,
// either through the onFinished callback passed to WithOnFinished or
// through the channel returned by Session.Results.
type Result struct {
	URL string
	Err error
}

// PullOptions controls how a single URL is imported, per spec.md §4.1
// "pull(url, local?, force_local?)".
type PullOptions struct {
	// Local, if non-empty, names a writable copy to materialize at
	// <image_root>/<local>.raw once the cache entry is complete.
	Local string
	// ForceLocal, when Local is set, removes any existing file at that
	// path before writing the new copy.
	ForceLocal bool
}

// Session coordinates concurrent downloads into a single image_root, per
// spec.md §4.1. It is safe for concurrent use.
type Session struct {
	imageRoot  string
	transport  Transport
	log        *slog.Logger
	onFinished func(Result)

	mu        sync.Mutex
	downloads map[string]*cancelableDownload
	closed    bool

	wg      sync.WaitGroup
	results chan Result
}

// cancelableDownload pairs a running download with the means to stop it.
type cancelableDownload struct {
	d         *download
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{} // closed once the download's goroutine has finished
}

// SessionOption configures a Session at construction time.
type SessionOption func(*Session)

// WithTransport overrides the default net/http-backed Transport, e.g. for
// tests or to route through a proxy.
func WithTransport(t Transport) SessionOption {
	return func(s *Session) { s.transport = t }
}

// WithLogger overrides the default slog.Logger. Matching the domain
// conventions of this codebase, every download's log lines are tagged
// with its url and a generated download_id.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithOnFinished registers a callback invoked once per Pull that reaches a
// terminal state. Mutually exclusive with reading from Session.Results;
// if both are used the callback fires and the channel send is skipped.
func WithOnFinished(f func(Result)) SessionOption {
	return func(s *Session) { s.onFinished = f }
}

// WithResultsChannel sizes the channel returned by Session.Results. The
// default, if neither this option nor WithOnFinished is used, is a
// channel with a buffer of 1.
func WithResultsChannel(capacity int) SessionOption {
	return func(s *Session) {
		s.results = make(chan Result, capacity)
	}
}

// NewSession creates a Session rooted at imageRoot. imageRoot must be an
// absolute path; per spec.md §3 it need not exist yet, only at finalize
// time, but a relative path is rejected early since every cache and temp
// path downstream is built by joining onto it.
func NewSession(imageRoot string, opts ...SessionOption) (*Session, error) {
	if !filepath.IsAbs(imageRoot) {
		return nil, fmt.Errorf("%w: image root must be an absolute path", ErrInvalidArgument)
	}

	s := &Session{
		imageRoot: imageRoot,
		transport: NewDefaultTransport(),
		log:       slog.Default(),
		downloads: make(map[string]*cancelableDownload),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onFinished == nil && s.results == nil {
		s.results = make(chan Result, 1)
	}
	return s, nil
}

// Pull starts a download of url in the background, per spec.md §4.1. It
// returns ErrInvalidArgument if url or opts.Local is malformed, and
// ErrAlreadyInProgress if url is already being downloaded. The download's
// terminal Result is delivered via WithOnFinished or Session.Results.
func (s *Session) Pull(ctx context.Context, url string, opts PullOptions) error {
	if !httpURLIsValid(url) {
		return fmt.Errorf("%w: not an absolute http(s) url", ErrInvalidArgument)
	}
	if opts.Local != "" && !machineNameIsValid(opts.Local) {
		return fmt.Errorf("%w: invalid local name", ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed", ErrInvalidArgument)
	}
	if _, exists := s.downloads[url]; exists {
		s.mu.Unlock()
		return ErrAlreadyInProgress
	}

	dctx, cancel := context.WithCancel(ctx)
	d := newDownload(s.log, s.transport, s.imageRoot, url, opts)
	entry := &cancelableDownload{d: d, cancel: cancel, done: make(chan struct{})}
	s.downloads[url] = entry
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(entry.done)
		err := d.run(dctx)
		s.finish(url, err)
	}()

	return nil
}

// finish removes url's entry and, unless the download was explicitly
// cancelled, delivers its terminal Result.
func (s *Session) finish(url string, err error) {
	s.mu.Lock()
	entry, ok := s.downloads[url]
	if ok {
		delete(s.downloads, url)
	}
	s.mu.Unlock()

	if ok && entry.cancelled {
		return
	}

	if s.onFinished != nil {
		s.onFinished(Result{URL: url, Err: err})
		return
	}
	if s.results != nil {
		s.results <- Result{URL: url, Err: err}
	}
}

// Cancel stops the in-flight download of url, if any, and reports
// whether one was found, matching spec.md §4.1 "cancel(url)". It returns
// once the download's goroutine has unwound through its normal cleanup
// path (temp file unlinked, entry removed from the map); no terminal
// Result is delivered for it.
func (s *Session) Cancel(url string) bool {
	s.mu.Lock()
	entry, ok := s.downloads[url]
	if ok {
		entry.cancelled = true
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	entry.cancel()
	<-entry.done
	return true
}

// Results returns the channel terminal Results are delivered on, or nil
// if the Session was constructed with WithOnFinished and without
// WithResultsChannel.
func (s *Session) Results() <-chan Result {
	return s.results
}

// Close cancels every in-flight download, waits for their goroutines to
// unwind, and closes the results channel if one exists. It implements
// spec.md §4.1 "destroy(session)".
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, entry := range s.downloads {
		entry.cancelled = true
		entry.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.results != nil {
		close(s.results)
	}
	return nil
}

// ImageRoot returns the directory this Session caches into. Useful for
// callers that want to stat the cache or enumerate existing entries
// without duplicating the path they passed to NewSession.
func (s *Session) ImageRoot() string {
	return s.imageRoot
}

// EnsureImageRoot creates the image root directory (and any missing
// parents) if it does not already exist, matching the reference
// implementation's behavior of creating the cache directory on demand
// rather than requiring the caller to pre-create it.
func (s *Session) EnsureImageRoot() error {
	if err := os.MkdirAll(s.imageRoot, 0o755); err != nil {
		return fmt.Errorf("%w: create image root: %v", ErrFilesystem, err)
	}
	return nil
}
