// Package scpi provides a blocking command/acknowledge session with an
// instrument that has a SCPI interface.
//
// Every exchange is synchronous.  Write waits on the instrument's
// operation-complete flag before returning, so the host never queues a
// command behind one the instrument is still executing.  Ask overrides the
// response timeout for a single query and always restores it.
package scpi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	// DefaultTimeout is the normal response timeout
	DefaultTimeout = 1 * time.Second

	// DefaultIdentifyTimeout bounds *IDN? during Open
	DefaultIdentifyTimeout = 100 * time.Millisecond

	// DefaultRetryInterval is the pause between open attempts
	DefaultRetryInterval = 100 * time.Millisecond

	// calibrateFactor scales the normal timeout for :CAL:ALL
	calibrateFactor = 10
)

var (
	// ErrMalformedIdentity is generated when *IDN? does not return at least
	// manufacturer and model fields
	ErrMalformedIdentity = errors.New("scpi: malformed identification response")

	// ErrNotComplete is generated when *OPC? answers anything but 1
	ErrNotComplete = errors.New("scpi: operation not complete")

	// ErrClosed is generated when a closed session is used
	ErrClosed = errors.New("scpi: session closed")
)

// Transport moves whole messages to and from the instrument.  Implementations
// honor the context deadline on both calls.
type Transport interface {
	Write(ctx context.Context, b []byte) error
	Read(ctx context.Context) ([]byte, error)
	io.Closer
}

// Opener produces a connected Transport.  An error that implements
// Temporary() bool and returns true is retried by Open; any other error is
// fatal.
type Opener func() (Transport, error)

// Options configure Open.  Zero values take the package defaults.
type Options struct {
	// Timeout is the normal response timeout
	Timeout time.Duration

	// IdentifyTimeout bounds the *IDN? query made right after connecting
	IdentifyTimeout time.Duration

	// RetryInterval is the constant pause between open attempts.  The pause
	// does not grow.
	RetryInterval time.Duration

	// MaxAttempts bounds the number of open attempts, 0 is unbounded
	MaxAttempts int

	// Deadline bounds the total time spent opening, 0 is unbounded
	Deadline time.Duration

	// Logger receives debug traffic and retry notices, nil discards
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Identity is the parsed *IDN? response
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// String satisfies fmt.Stringer
func (id Identity) String() string {
	return id.Manufacturer + " " + id.Model
}

// ParseIdentity splits an *IDN? reply.  Manufacturer and model are required,
// serial and firmware are optional.
func ParseIdentity(resp string) (Identity, error) {
	var id Identity
	pieces := strings.Split(strings.TrimSpace(resp), ",")
	if len(pieces) < 2 {
		return id, fmt.Errorf("%w: %q", ErrMalformedIdentity, resp)
	}
	for i := range pieces {
		pieces[i] = strings.TrimSpace(pieces[i])
	}
	id.Manufacturer = pieces[0]
	id.Model = pieces[1]
	if len(pieces) > 2 {
		id.Serial = pieces[2]
	}
	if len(pieces) > 3 {
		id.Firmware = pieces[3]
	}
	return id, nil
}

// Session is a single instrument connection.  It is not safe for concurrent
// use; one goroutine owns it for its lifetime.
type Session struct {
	tr      Transport
	timeout time.Duration
	id      Identity
	log     *slog.Logger
}

// temporary reports whether err is worth another open attempt
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Open connects with open, retrying transient failures at a constant
// interval, then identifies the instrument with a short timeout.  A transient
// failure of the identification query closes the transport and retries the
// whole sequence.  Retries stop when ctx is done or the bounds in opts are
// reached, and the last error is returned.
func Open(ctx context.Context, open Opener, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{timeout: opts.Timeout, log: opts.Logger}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(opts.RetryInterval)
	switch {
	case opts.MaxAttempts == 1:
		b = &backoff.StopBackOff{}
	case opts.MaxAttempts > 1:
		b = backoff.WithMaxRetries(b, uint64(opts.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		attempt++
		tr, err := open()
		if err != nil {
			if temporary(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		s.tr = tr
		resp, err := s.Ask("*IDN?", opts.IdentifyTimeout)
		if err == nil {
			s.id, err = ParseIdentity(resp)
		}
		if err != nil {
			tr.Close()
			s.tr = nil
			if temporary(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Debug("instrument not ready, retrying", "attempt", attempt, "next", next, "err", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	s.log.Debug("connected", "manufacturer", s.id.Manufacturer, "model", s.id.Model, "attempts", attempt)
	return s, nil
}

// Identity returns the parsed *IDN? response from Open
func (s *Session) Identity() Identity { return s.id }

// Timeout returns the current response timeout
func (s *Session) Timeout() time.Duration { return s.timeout }

// Close closes the underlying transport
func (s *Session) Close() error {
	if s.tr == nil {
		return ErrClosed
	}
	err := s.tr.Close()
	s.tr = nil
	return err
}

func (s *Session) send(cmd string) error {
	if s.tr == nil {
		return ErrClosed
	}
	s.log.Debug("tx", "cmd", cmd)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.tr.Write(ctx, []byte(cmd)); err != nil {
		return fmt.Errorf("scpi: send %q: %w", cmd, err)
	}
	return nil
}

func (s *Session) recv(cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	resp, err := s.tr.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("scpi: read reply to %q: %w", cmd, err)
	}
	str := strings.TrimRight(string(resp), "\r\n")
	s.log.Debug("rx", "cmd", cmd, "bytes", len(resp))
	return str, nil
}

// Send transmits cmd and returns without waiting for the instrument to finish
// executing it.  Used for long operations the caller polls on its own.
func (s *Session) Send(cmd string) error {
	return s.send(cmd)
}

// Write transmits cmd and blocks until the instrument reports the operation
// complete, waiting up to the session timeout
func (s *Session) Write(cmd string) error {
	return s.WriteTimeout(cmd, s.timeout)
}

// WriteTimeout is Write with an explicit completion timeout
func (s *Session) WriteTimeout(cmd string, timeout time.Duration) error {
	if err := s.send(cmd); err != nil {
		return err
	}
	return s.Wait(timeout)
}

// Wait is the operation complete barrier: *OPC then *OPC? with timeout
func (s *Session) Wait(timeout time.Duration) error {
	if err := s.send("*OPC"); err != nil {
		return err
	}
	resp, err := s.Ask("*OPC?", timeout)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp) != "1" {
		return fmt.Errorf("%w: *OPC? returned %q", ErrNotComplete, resp)
	}
	return nil
}

// Ask sends query and returns the reply, using timeout for this exchange
// only.  The previous timeout is restored whatever the outcome.
func (s *Session) Ask(query string, timeout time.Duration) (string, error) {
	prev := s.timeout
	s.timeout = timeout
	defer func() { s.timeout = prev }()
	if err := s.send(query); err != nil {
		return "", err
	}
	return s.recv(query)
}

// AskFloat is Ask with the session timeout, parsing the reply as a float
func (s *Session) AskFloat(query string) (float64, error) {
	resp, err := s.Ask(query, s.timeout)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("scpi: parse reply to %q: %w", query, err)
	}
	return f, nil
}

// Reset returns the instrument to its default state
func (s *Session) Reset() error {
	return s.Write("*RST")
}

// Calibrate runs the full self calibration, waiting up to ten times the
// normal timeout for it to finish
func (s *Session) Calibrate() error {
	if err := s.send(":CAL:ALL"); err != nil {
		return err
	}
	return s.Wait(calibrateFactor * s.timeout)
}
