package scan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/emcscan/util"
)

const (
	// DefaultPollInterval is the pause between sweep count queries
	DefaultPollInterval = 1 * time.Second

	// pollMargin scales the single sweep time into the count query timeout
	pollMargin = 1.1
)

// Instrument is the part of scpi.Session the runner needs
type Instrument interface {
	// Write sends a command and waits for the operation to complete
	Write(cmd string) error

	// Send sends a command without waiting
	Send(cmd string) error

	// Ask sends a query and returns the reply within timeout
	Ask(query string, timeout time.Duration) (string, error)

	// Timeout is the normal response timeout
	Timeout() time.Duration
}

// Status is a snapshot of sweep progress
type Status struct {
	Elapsed time.Duration
	Total   time.Duration
	Count   int
	Target  int
}

// String renders [mm:ss/mm:ss] sweep n/N
func (s Status) String() string {
	return fmt.Sprintf("[%s/%s] sweep %d/%d",
		util.FormatMinSec(s.Elapsed), util.FormatMinSec(s.Total), s.Count, s.Target)
}

// Progress receives a Status after every poll
type Progress interface {
	Report(Status)
}

// ProgressFunc adapts a function to Progress
type ProgressFunc func(Status)

// Report calls f
func (f ProgressFunc) Report(s Status) { f(s) }

// Runner configures the instrument for a Recipe and sweeps it
type Runner struct {
	Instrument Instrument

	// Progress may be nil
	Progress Progress

	// PollInterval paces the sweep count queries, DefaultPollInterval if zero
	PollInterval time.Duration

	// Logger may be nil
	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// Configure writes the recipe's configuration sequence, each command
// acknowledged before the next is sent
func (r *Runner) Configure(rec Recipe) error {
	for _, cmd := range rec.Commands() {
		if err := r.Instrument.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Run configures the instrument for rec, starts the sweep and blocks until
// the instrument reports rec.Sweeps completed sweeps.  A failed query aborts
// the scan; there is no retry and the instrument is left as configured.
func (r *Runner) Run(ctx context.Context, rec Recipe) error {
	log := r.logger().With("scan", rec.Kind.String())
	log.Debug("configuring", "detector", rec.Detector.Name, "limit", rec.Limit.Name, "sweeps", rec.Sweeps)
	if err := r.Configure(rec); err != nil {
		return fmt.Errorf("scan: configure: %w", err)
	}
	if err := r.Instrument.Write(fmt.Sprintf(":SENS:SWE:COUN %d", rec.Sweeps)); err != nil {
		return fmt.Errorf("scan: sweep count: %w", err)
	}

	resp, err := r.Instrument.Ask(":SENSE:SWEEP:TIME?", r.Instrument.Timeout())
	if err != nil {
		return fmt.Errorf("scan: sweep time: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return fmt.Errorf("scan: sweep time %q: %w", resp, err)
	}
	sweep := util.SecsToDuration(secs)
	log.Debug("starting sweep", "sweep_time", sweep, "estimated", time.Duration(rec.Sweeps)*sweep)

	start := time.Now()
	if err := r.Instrument.Send(":INIT:IMM"); err != nil {
		return fmt.Errorf("scan: start sweep: %w", err)
	}
	return r.wait(ctx, rec.Sweeps, sweep, start)
}

// wait polls the completed sweep count until it reaches target.  The
// instrument has no completion event, so this is a level triggered poll.
func (r *Runner) wait(ctx context.Context, target int, sweep time.Duration, start time.Time) error {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)

	timeout := time.Duration(float64(sweep) * pollMargin)
	if floor := r.Instrument.Timeout(); timeout < floor {
		timeout = floor
	}
	total := time.Duration(target) * sweep

	count := 0
	for count < target {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		resp, err := r.Instrument.Ask(":SENSE:SWEEP:COUNT:CURRENT?", timeout)
		if err != nil {
			return fmt.Errorf("scan: sweep count: %w", err)
		}
		count, err = parseCount(resp)
		if err != nil {
			return err
		}
		if r.Progress != nil {
			r.Progress.Report(Status{Elapsed: time.Since(start), Total: total, Count: count, Target: target})
		}
	}
	return nil
}

// parseCount accepts integer or NR3 replies, e.g. 7 or 7.000000e+00
func parseCount(resp string) (int, error) {
	s := strings.TrimSpace(resp)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("scan: sweep count %q: %w", resp, err)
	}
	return int(f), nil
}
