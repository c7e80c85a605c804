// SPDX-License-Identifier: MPL-2.0

// Package lockfile implements advisory cross-process locks as exclusively
// created files. A lock older than its stale timeout is presumed abandoned
// by a crashed process and is broken.
package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DefaultStaleAfter is how long a lock is honoured without being released.
const DefaultStaleAfter = time.Hour

// ErrLocked is the sentinel error wrapped by LockedError.
var ErrLocked = errors.New("locked by another process")

type (
	// Lock is a held lock file.
	Lock struct {
		path       string
		staleAfter time.Duration
		now        func() time.Time
	}

	// LockedError reports a live lock held by someone else.
	LockedError struct {
		Path  string
		Since time.Time
		// Owner is the content of the lock file (the holder's pid), if readable.
		Owner string
	}

	// Option configures Acquire.
	Option func(*options)

	options struct {
		staleAfter time.Duration
		now        func() time.Time
	}
)

// Error implements the error interface.
func (e *LockedError) Error() string {
	msg := fmt.Sprintf("%s is locked since %s", e.Path, e.Since.Format(time.RFC3339))
	if e.Owner != "" {
		msg += " (pid " + e.Owner + ")"
	}
	return msg
}

// Unwrap returns ErrLocked for errors.Is() compatibility.
func (e *LockedError) Unwrap() error { return ErrLocked }

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) { o.staleAfter = d }
}

// WithClock sets the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Acquire creates path exclusively. If path exists and is younger than the
// stale timeout, a *LockedError is returned. A stale lock is removed and
// acquisition is retried once.
func Acquire(path string, opts ...Option) (*Lock, error) {
	o := options{staleAfter: DefaultStaleAfter, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err := create(path)
		if err == nil {
			return &Lock{path: path, staleAfter: o.staleAfter, now: o.now}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
		}

		fi, statErr := os.Stat(path)
		if errors.Is(statErr, fs.ErrNotExist) && attempt == 0 {
			continue // released between create and stat
		}
		if statErr != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, statErr)
		}

		if attempt == 0 && o.now().Sub(fi.ModTime()) > o.staleAfter {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return nil, fmt.Errorf("breaking stale lock %s: %w", path, rmErr)
			}
			continue
		}

		owner, _ := os.ReadFile(path) //nolint:errcheck // Owner is informational.
		return nil, &LockedError{Path: path, Since: fi.ModTime(), Owner: string(owner)}
	}
}

func create(path string) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Refresh resets the lock's age so it is not taken for stale.
func (l *Lock) Refresh() error {
	t := l.now()
	if err := os.Chtimes(l.path, t, t); err != nil {
		return fmt.Errorf("refreshing lock %s: %w", l.path, err)
	}
	return nil
}

// KeepAlive refreshes the lock in the background four times per stale
// timeout, until the returned stop function is called. Work that may outlast
// the stale timeout, such as a source build, holds the lock this way.
func (l *Lock) KeepAlive() (stop func()) {
	interval := l.staleAfter / 4
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = l.Refresh() // a failed refresh only risks an early break
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

// Release removes the lock file. Releasing twice is not an error.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}
	return nil
}
