// Package memory provides an in-memory PSU link. It records every command
// and wait in order, which backs sequence previews and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"psu-sequencer/internal/protocol"
)

// Event is either a command line or a clock wait.
type Event struct {
	Command string
	Sleep   time.Duration
}

func (e Event) String() string {
	if e.Command != "" {
		return e.Command
	}
	return fmt.Sprintf("<sleep %v>", e.Sleep)
}

// Link implements protocol.DeviceProtocol and utils.Clock.
type Link struct {
	mu sync.Mutex

	// Responses are returned by ReadLine in order.
	Responses []string
	// FailWriteAt makes the n-th write (1-based) fail; zero disables it.
	FailWriteAt int
	// OpenErr is returned by Open when set.
	OpenErr error

	events []Event
	writes int
	open   bool
	opened int
	closed int
}

// ErrInjected is returned for FailWriteAt.
var ErrInjected = errors.New("injected write failure")

// New returns a recorder answering the identity query with identity.
func New(identity string) *Link {
	return &Link{Responses: []string{identity}}
}

func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.OpenErr != nil {
		return l.OpenErr
	}
	l.open = true
	l.opened++
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		l.closed++
	}
	l.open = false
	return nil
}

func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *Link) Write(ctx context.Context, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return errors.New("link not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.writes++
	if l.FailWriteAt > 0 && l.writes == l.FailWriteAt {
		return ErrInjected
	}

	for _, line := range strings.SplitAfter(string(data), "\n") {
		if line == "" {
			continue
		}
		l.events = append(l.events, Event{Command: strings.TrimSuffix(line, "\n")})
	}
	return nil
}

func (l *Link) ReadLine(ctx context.Context) (string, error) {
	l.mu.Lock()
	if len(l.Responses) > 0 {
		line := l.Responses[0]
		l.Responses = l.Responses[1:]
		l.mu.Unlock()
		return line, nil
	}
	l.mu.Unlock()

	// An unanswered query hangs like a silent device.
	<-ctx.Done()
	return "", ctx.Err()
}

func (l *Link) Stats() protocol.ProtocolStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return protocol.ProtocolStats{OperationCount: int64(l.writes), IsConnected: l.open}
}

// Sleep records the wait without blocking.
func (l *Link) Sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	l.events = append(l.events, Event{Sleep: d})
	return nil
}

// Events returns commands and waits in order.
func (l *Link) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Commands returns only the command lines, in order.
func (l *Link) Commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Command != "" {
			out = append(out, e.Command)
		}
	}
	return out
}

// OpenCloseCounts reports how many times the link was opened and closed.
func (l *Link) OpenCloseCounts() (opened, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened, l.closed
}
