// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serial

import "sync"

// Fake is a scripted LineTransport for tests. Lines queued with Push
// are returned by ReadLine in order; once the script is exhausted
// ReadLine reports "no data". Every line passed to SendLine is
// recorded.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	incoming  []fakeRead
	sent      []string
	writeErr  error
	closed    bool
	idleHook  func()
	sendHook  func(string)
	readCount int
}

type fakeRead struct {
	line string
	err  error
}

// NewFake returns a Fake whose script starts with lines.
func NewFake(lines ...string) *Fake {
	fake := &Fake{}
	fake.Push(lines...)
	return fake
}

// Push appends lines to the read script.
func (f *Fake) Push(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range lines {
		f.incoming = append(f.incoming, fakeRead{line: line})
	}
}

// PushError appends a read failure to the script. ReadLine returns it
// when the script reaches that position.
func (f *Fake) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming = append(f.incoming, fakeRead{err: err})
}

// FailWrites makes every subsequent SendLine return err. A nil err
// restores normal writes.
func (f *Fake) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// OnIdle registers a function called each time ReadLine has nothing
// to return. Tests use it to advance a fake clock so bounded read
// loops make progress.
func (f *Fake) OnIdle(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idleHook = hook
}

// OnSend registers a function called with every line written. Tests
// use it to script replies that depend on what was sent.
func (f *Fake) OnSend(hook func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendHook = hook
}

// SendLine records text.
func (f *Fake) SendLine(text string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, text)
	hook := f.sendHook
	f.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return nil
}

// ReadLine returns the next scripted line or error, or "" when the
// script is empty.
func (f *Fake) ReadLine() (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", ErrClosed
	}
	f.readCount++
	if len(f.incoming) == 0 {
		hook := f.idleHook
		f.mu.Unlock()
		if hook != nil {
			hook()
		}
		return "", nil
	}
	next := f.incoming[0]
	f.incoming = f.incoming[1:]
	f.mu.Unlock()
	return next.line, next.err
}

// Close marks the transport closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Sent returns a copy of every line written so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Remaining returns how many scripted reads have not been consumed.
func (f *Fake) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.incoming)
}
