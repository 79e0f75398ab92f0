// Package trace provides types for spectrum analyzer trace data and their
// CSV encoding
package trace

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/renameio/v2"

	"github.jpl.nasa.gov/bdube/emcscan/mathx"
)

var (
	// ErrEmpty is generated when a trace reply holds no samples
	ErrEmpty = errors.New("trace: no samples")

	// ErrLengthMismatch is generated when traces in a Set differ in length
	// from each other or from the frequency axis
	ErrLengthMismatch = errors.New("trace: length mismatch")
)

// Trace is one amplitude trace read back from the analyzer
type Trace struct {
	// ID is the instrument's trace number, TRACE<ID>
	ID int

	// Amplitude holds the samples in the instrument's power unit
	Amplitude []float64
}

// Set is a frequency axis and the traces that share it
type Set struct {
	// Frequency is the axis in Hz, one entry per sample
	Frequency []int64

	Traces []Trace
}

// ParseASCII decodes the reply to :TRACE:DATA? in ASCII format.
//
// The reply is an IEEE 488.2 definite length block header (#<n><n digits>)
// followed by comma separated values, e.g.
//
//	#9000000030 -6.03e+01,  -5.98e+01,  -6.11e+01
func ParseASCII(resp string) ([]float64, error) {
	fields := strings.FieldsFunc(resp, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) > 0 && strings.HasPrefix(fields[0], "#") {
		hdr := fields[0]
		fields = fields[1:]
		if len(hdr) > 1 && hdr[1] >= '0' && hdr[1] <= '9' {
			end := 2 + int(hdr[1]-'0')
			if len(hdr) > end {
				// first value is glued to the header
				fields = append([]string{hdr[end:]}, fields...)
			}
		}
	}
	if len(fields) == 0 {
		return nil, ErrEmpty
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("trace: sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// LogAxis computes a log spaced frequency axis of n points from start to stop
// Hz, floored to whole Hz
func LogAxis(start, stop float64, n int) ([]int64, error) {
	if n <= 0 {
		return nil, ErrEmpty
	}
	if start <= 0 || stop <= 0 {
		return nil, fmt.Errorf("trace: log axis needs positive bounds, got %g to %g", start, stop)
	}
	f := mathx.LogSpace(start, stop, n)
	out := make([]int64, n)
	for i, v := range f {
		out[i] = int64(math.Floor(v))
	}
	return out, nil
}

func (s Set) validate() error {
	if len(s.Traces) == 0 {
		return fmt.Errorf("%w: set has no traces", ErrEmpty)
	}
	n := len(s.Frequency)
	for _, t := range s.Traces {
		if len(t.Amplitude) != n {
			return fmt.Errorf("%w: trace %d has %d samples, axis has %d", ErrLengthMismatch, t.ID, len(t.Amplitude), n)
		}
	}
	return nil
}

// Header is the CSV header row, Frequency then "Trace N" per trace
func (s Set) Header() []string {
	out := make([]string, 0, len(s.Traces)+1)
	out = append(out, "Frequency")
	for _, t := range s.Traces {
		out = append(out, "Trace "+strconv.Itoa(t.ID))
	}
	return out
}

// EncodeCSV writes the header and one row per frequency point
func (s Set) EncodeCSV(w io.Writer) error {
	if err := s.validate(); err != nil {
		return err
	}
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	if err := writer.Write(s.Header()); err != nil {
		return err
	}
	row := make([]string, len(s.Traces)+1)
	for i, f := range s.Frequency {
		row[0] = strconv.FormatInt(f, 10)
		for j, t := range s.Traces {
			row[j+1] = strconv.FormatFloat(t.Amplitude[i], 'f', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

// WriteFile encodes the set to path.  The data goes to a pending file in
// the same directory which is synced and renamed over path once complete, so
// path holds either the previous contents or the whole set.
func (s Set) WriteFile(path string) error {
	if err := s.validate(); err != nil {
		return err
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer pf.Cleanup()
	if err = s.EncodeCSV(pf); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}
