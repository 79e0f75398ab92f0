package scpi

import (
	"errors"
	"fmt"

	"github.jpl.nasa.gov/bdube/emcscan/trace"
)

// Traces switches the instrument to ASCII trace format and reads back the
// listed traces along with a log spaced frequency axis spanning the
// configured start and stop frequencies.  The axis has as many points as the
// first trace.
func (s *Session) Traces(ids ...int) (trace.Set, error) {
	var set trace.Set
	if len(ids) == 0 {
		return set, errors.New("scpi: no traces requested")
	}
	if err := s.Write(":FORM:TRAC:DATA ASC"); err != nil {
		return set, err
	}
	for _, id := range ids {
		query := fmt.Sprintf(":TRACE:DATA? TRACE%d", id)
		resp, err := s.Ask(query, s.timeout)
		if err != nil {
			return set, err
		}
		amp, err := trace.ParseASCII(resp)
		if err != nil {
			return set, fmt.Errorf("scpi: trace %d: %w", id, err)
		}
		set.Traces = append(set.Traces, trace.Trace{ID: id, Amplitude: amp})
	}
	start, err := s.AskFloat(":SENS:FREQ:START?")
	if err != nil {
		return set, err
	}
	stop, err := s.AskFloat(":SENS:FREQ:STOP?")
	if err != nil {
		return set, err
	}
	set.Frequency, err = trace.LogAxis(start, stop, len(set.Traces[0].Amplitude))
	return set, err
}

// ExportCSV reads the listed traces and writes them to path as CSV,
// one column per trace after the frequency column
func (s *Session) ExportCSV(path string, ids ...int) error {
	set, err := s.Traces(ids...)
	if err != nil {
		return err
	}
	s.log.Debug("writing traces", "path", path, "traces", len(set.Traces), "points", len(set.Frequency))
	return set.WriteFile(path)
}
