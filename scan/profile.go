package scan

import (
	"fmt"
	"strings"

	"github.jpl.nasa.gov/bdube/emcscan/util"
)

// Conducted emissions band, CISPR 150 kHz to 30 MHz
const (
	StartFreq = 150000
	StopFreq  = 30000000

	// QuasiPeakStopFreq is the narrowed upper bound for quasi-peak scans
	QuasiPeakStopFreq = 500000
)

// Trace modes understood by :TRAC1:MODE
const (
	MaxHold      = "MAXH"
	VideoAverage = "VID"
)

// conducted sets the span and amplitude unit shared by every scan
func conducted() []string {
	return []string{
		fmt.Sprintf(":SENS:FREQ:STAR %d", StartFreq),
		fmt.Sprintf(":SENS:FREQ:STOP %d", StopFreq),
		":UNIT:POW DBUV",
	}
}

// Detector describes the display, filter, detector, sweep and trace settings
// for one measurement type
type Detector struct {
	Name string

	// RefLevel is the display reference level in dBµV
	RefLevel int

	// StopFreq replaces the span's upper bound when not zero
	StopFreq int

	// Function is the :SENS:DET:FUNC code, POS or QPE
	Function string

	// SweepRule is the automatic sweep time rule, NORM or ACC
	SweepRule string

	// TraceMode is MaxHold or VideoAverage
	TraceMode string

	// Blank clears trace 1 before arming it
	Blank bool
}

// Commands renders the profile.  sweeps is the averaging count in
// VideoAverage mode and is otherwise unused.
func (d Detector) Commands(sweeps int) []string {
	cmds := []string{
		fmt.Sprintf(":DISP:WIN:TRAC:Y:SCAL:RLEV %d", d.RefLevel),
		":DISP:WIN:TRAC:Y:SCAL:PDIV 5",
		":DISP:WIN:TRAC:X:SCAL:SPAC LOG",
	}
	if d.StopFreq > 0 {
		cmds = append(cmds, fmt.Sprintf(":SENS:FREQ:STOP %d", d.StopFreq))
	}
	cmds = append(cmds,
		":SENS:BAND:EMIF:STAT ON",
		":SENS:BAND:RES 9000",
		":SENS:BAND:VID 30000",
		":SENS:DET:FUNC "+d.Function,
		":SENS:POW:RF:ATT 20",
		":SENS:SWE:TIME ON",
		":SENS:SWE:TIME:AUTO:RUL "+d.SweepRule,
		":INIT:CONT OFF",
	)
	if d.Blank {
		cmds = append(cmds, ":TRAC1:MODE BLANK")
	}
	cmds = append(cmds, ":TRAC1:MODE "+d.TraceMode)
	if d.TraceMode == VideoAverage {
		cmds = append(cmds, fmt.Sprintf(":TRAC1:AVER:COUNT %d", sweeps))
	}
	return cmds
}

// LimitPoint is one breakpoint of a limit line
type LimitPoint struct {
	// Freq in Hz
	Freq int

	// Amplitude in dBµV
	Amplitude int

	// Connected joins this point to the previous one; the first point of a
	// line is never connected
	Connected bool
}

// Limit is a pass/fail mask drawn as limit line 2 with logarithmic
// interpolation between breakpoints
type Limit struct {
	Name   string
	Points []LimitPoint
}

// Data renders the :CALC:LLIN2:DATA argument, freq,amp,flag triples
func (l Limit) Data() string {
	is := make([]int, 0, 3*len(l.Points))
	for _, p := range l.Points {
		conn := 0
		if p.Connected {
			conn = 1
		}
		is = append(is, p.Freq, p.Amplitude, conn)
	}
	return util.IntSliceToCSV(is)
}

// Commands renders the profile
func (l Limit) Commands() []string {
	return []string{
		":CONF:PF",
		":CALC:LLIN:CONT:DOM FREQ",
		":CALC:LLIN:FAIL:STOP:STAT OFF",
		":CALC:LLIN2:DEL",
		":CALC:LLIN1:DEL",
		":CALC:LLIN1:STAT OFF",
		":CALC:LLIN2:STAT ON",
		":CALC:LLIN2:DATA " + l.Data(),
		":calculate:lline2:control:interpolate:type logarithmic",
	}
}

// String satisfies fmt.Stringer
func (l Limit) String() string {
	pts := make([]string, len(l.Points))
	for i, p := range l.Points {
		pts[i] = fmt.Sprintf("%d Hz/%d dBuV", p.Freq, p.Amplitude)
	}
	return l.Name + " [" + strings.Join(pts, ", ") + "]"
}
