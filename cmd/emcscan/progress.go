package main

import (
	"io"
	"time"

	"github.com/theckman/yacspin"

	"github.jpl.nasa.gov/bdube/emcscan/scan"
)

// spinner shows sweep progress on one line that is rewritten in place
type spinner struct {
	s *yacspin.Spinner
}

func newSpinner(w io.Writer, kind scan.Kind) (*spinner, error) {
	s, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         250 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + kind.String() + " scan ",
		Message:           "starting",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, err
	}
	return &spinner{s: s}, nil
}

func (sp *spinner) Start() error { return sp.s.Start() }

// Report satisfies scan.Progress
func (sp *spinner) Report(st scan.Status) {
	sp.s.Message(st.String())
}

// Stop ends the line, marking it failed if err is not nil
func (sp *spinner) Stop(err error) {
	if err != nil {
		sp.s.StopFailMessage(err.Error())
		sp.s.StopFail()
		return
	}
	sp.s.StopMessage("done")
	sp.s.Stop()
}
