// Package frontier tracks which URLs still need fetching and guarantees each
// one is leased to at most one worker at a time.
package frontier

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config controls retry scheduling
type Config struct {
	MaxAttempts int           // Total fetch attempts per URL, including the first
	BaseDelay   time.Duration // Backoff base; attempt n waits BaseDelay*2^n
	MaxDelay    time.Duration // Upper bound on a single backoff
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Decision is the result of Retry
type Decision int

const (
	// DecisionRetry means the key was scheduled for another attempt
	DecisionRetry Decision = iota
	// DecisionPermanent means the key was moved to done as a failure
	DecisionPermanent
)

func (d Decision) String() string {
	if d == DecisionRetry {
		return "retry"
	}
	return "permanent"
}

type entry struct {
	url        string
	domain     string
	attempts   int
	enqueuedAt time.Time
	succeeded  bool
	failure    *Failure
}

// Snapshot is a point-in-time view of the frontier counts
type Snapshot struct {
	Pending   int // includes Ready and Scheduled
	Ready     int
	Scheduled int
	InFlight  int
	Done      int
	Succeeded int
	Failed    int
}

// Frontier owns the pending, inFlight and done key sets.
// Every transition happens under mu; the sets never escape the struct.
type Frontier struct {
	mu sync.Mutex

	config Config

	entries   map[string]*entry
	pending   map[string]struct{}
	inFlight  map[string]struct{}
	done      map[string]struct{}
	ready     []string
	scheduled map[string]*time.Timer

	// wake is closed and replaced whenever leasable state changes
	wake     chan struct{}
	shutdown bool

	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates an empty frontier
func New(config Config) *Frontier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Frontier{
		config:    config,
		entries:   make(map[string]*entry),
		pending:   make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
		done:      make(map[string]struct{}),
		scheduled: make(map[string]*time.Timer),
		wake:      make(chan struct{}),
		afterFunc: time.AfterFunc,
	}
}

// Enqueue adds a URL if its key has never been seen.
// It returns false for duplicates and ErrMalformedURL for URLs that cannot be normalized.
func (f *Frontier) Enqueue(rawURL string) (bool, error) {
	key, u, err := Normalize(rawURL)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shutdown {
		return false, ErrClosed
	}
	if _, seen := f.entries[key]; seen {
		return false, nil
	}

	f.entries[key] = &entry{
		url:        rawURL,
		domain:     u.Hostname(),
		enqueuedAt: time.Now().UTC(),
	}
	f.pending[key] = struct{}{}
	f.ready = append(f.ready, key)
	f.notifyLocked()

	slog.Debug("URL enqueued", "url", rawURL, "key", key)
	return true, nil
}

// MarkDone records keys completed in an earlier run so they are never leased.
// Keys already known to the frontier are left untouched.
func (f *Frontier) MarkDone(rawURLs []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	marked := 0
	for _, raw := range rawURLs {
		key, u, err := Normalize(raw)
		if err != nil {
			continue
		}
		if _, seen := f.entries[key]; seen {
			continue
		}
		f.entries[key] = &entry{url: raw, domain: u.Hostname(), succeeded: true}
		f.done[key] = struct{}{}
		marked++
	}
	return marked
}

// Lease blocks until a key is ready and moves it to inFlight.
// It returns ErrClosed once nothing is pending or in flight, or after Shutdown,
// and ctx.Err() if the context ends first.
func (f *Frontier) Lease(ctx context.Context) (URLTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return URLTask{}, err
		}

		f.mu.Lock()
		if f.shutdown {
			f.mu.Unlock()
			return URLTask{}, ErrClosed
		}

		if len(f.ready) > 0 {
			key := f.ready[0]
			f.ready[0] = ""
			f.ready = f.ready[1:]

			delete(f.pending, key)
			f.inFlight[key] = struct{}{}

			e := f.entries[key]
			e.attempts++
			task := URLTask{
				URL:        e.url,
				Key:        key,
				Domain:     e.domain,
				Attempt:    e.attempts,
				EnqueuedAt: e.enqueuedAt,
			}
			f.mu.Unlock()
			return task, nil
		}

		if len(f.pending) == 0 && len(f.inFlight) == 0 {
			f.mu.Unlock()
			return URLTask{}, ErrClosed
		}

		wake := f.wake
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return URLTask{}, ctx.Err()
		case <-wake:
		}
	}
}

// Complete moves an in-flight key to done
func (f *Frontier) Complete(key string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.inFlight[key]; !ok {
		return ErrNotInFlight
	}

	delete(f.inFlight, key)
	f.done[key] = struct{}{}
	f.entries[key].succeeded = success
	f.notifyLocked()
	return nil
}

// Retry decides whether a failed attempt gets another chance.
// Retryable failures below MaxAttempts go back to pending and re-enter the
// ready queue after the backoff delay; everything else becomes a permanent failure.
func (f *Frontier) Retry(key string, failure *Failure) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.inFlight[key]; !ok {
		return DecisionPermanent, ErrNotInFlight
	}

	e := f.entries[key]
	e.failure = failure
	delete(f.inFlight, key)

	if failure != nil && failure.Retryable() && e.attempts < f.config.MaxAttempts && !f.shutdown {
		delay := f.Backoff(e.attempts)
		f.pending[key] = struct{}{}
		f.scheduled[key] = f.afterFunc(delay, func() { f.release(key) })

		slog.Info("Scheduling retry",
			"url", e.url,
			"attempt", e.attempts,
			"max_attempts", f.config.MaxAttempts,
			"delay", delay,
			"error", failure)
		return DecisionRetry, nil
	}

	f.done[key] = struct{}{}
	e.succeeded = false
	f.notifyLocked()

	slog.Warn("Permanent failure",
		"url", e.url,
		"attempts", e.attempts,
		"kind", kindOf(failure),
		"error", failure)
	return DecisionPermanent, nil
}

// release moves a key whose backoff elapsed into the ready queue
func (f *Frontier) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.scheduled[key]; !ok {
		return
	}
	delete(f.scheduled, key)
	f.ready = append(f.ready, key)
	f.notifyLocked()
}

// Shutdown stops leasing and cancels every scheduled retry.
// Keys waiting out a backoff are moved to done as failures and returned.
func (f *Frontier) Shutdown() []URLTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shutdown {
		return nil
	}
	f.shutdown = true

	var canceled []URLTask
	for key, timer := range f.scheduled {
		timer.Stop()
		delete(f.scheduled, key)
		delete(f.pending, key)
		f.done[key] = struct{}{}

		e := f.entries[key]
		e.succeeded = false
		canceled = append(canceled, URLTask{
			URL:        e.url,
			Key:        key,
			Domain:     e.domain,
			Attempt:    e.attempts,
			EnqueuedAt: e.enqueuedAt,
		})
	}

	f.notifyLocked()
	return canceled
}

// LastFailure returns the most recent failure recorded for a key
func (f *Frontier) LastFailure(key string) *Failure {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.entries[key]; ok {
		return e.failure
	}
	return nil
}

// Snapshot returns the current counts
func (f *Frontier) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		Pending:   len(f.pending),
		Ready:     len(f.ready),
		Scheduled: len(f.scheduled),
		InFlight:  len(f.inFlight),
		Done:      len(f.done),
	}
	for key := range f.done {
		if f.entries[key].succeeded {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// Backoff returns the delay before the retry that follows the given attempt
func (f *Frontier) Backoff(attempt int) time.Duration {
	delay := f.config.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if f.config.MaxDelay > 0 && delay >= f.config.MaxDelay {
			return f.config.MaxDelay
		}
	}
	return delay
}

func (f *Frontier) notifyLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

func kindOf(failure *Failure) string {
	if failure == nil {
		return "unknown"
	}
	return failure.Kind.String()
}
