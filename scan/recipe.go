// Package scan sequences the configuration of a spectrum analyzer for an EMC
// conducted emissions measurement and drives the sweep to completion.
package scan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is generated by ParseKind for an unknown scan type
var ErrUnsupported = errors.New("scan unsupported")

// Kind selects one of the fixed scan recipes
type Kind int

const (
	// Peak is a positive-peak detector, max hold scan
	Peak Kind = iota + 1

	// Average is a positive detector, video averaged scan
	Average

	// QuasiPeak is a quasi-peak detector, max hold scan below 500 kHz
	QuasiPeak
)

// Kinds lists every scan type in CLI order
func Kinds() []Kind {
	return []Kind{Peak, Average, QuasiPeak}
}

// String returns the CLI token for k
func (k Kind) String() string {
	switch k {
	case Peak:
		return "pk"
	case Average:
		return "av"
	case QuasiPeak:
		return "qp"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a CLI token (pk, av, qp; any case) to its Kind
func ParseKind(s string) (Kind, error) {
	tok := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if k.String() == tok {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%q %w", s, ErrUnsupported)
}

// Recipe pairs a detector profile and a limit profile with a sweep count
type Recipe struct {
	Kind     Kind
	Detector Detector
	Limit    Limit
	Sweeps   int
}

var (
	// limitQuasiPeak is the quasi-peak mask, also used for peak scans
	limitQuasiPeak = Limit{
		Name: "qp",
		Points: []LimitPoint{
			{150000, 66, false},
			{500000, 56, true},
			{5000000, 56, true},
			{5000001, 60, true},
			{35000000, 60, true},
		},
	}

	// limitAverage is the average mask
	limitAverage = Limit{
		Name: "av",
		Points: []LimitPoint{
			{150000, 55, false},
			{500000, 46, true},
			{5000000, 46, true},
			{5000001, 50, true},
			{35000000, 50, true},
		},
	}

	// detectorPeak is a positive peak detector with max hold
	detectorPeak = Detector{
		Name:      "pk",
		RefLevel:  85,
		Function:  "POS",
		SweepRule: "NORM",
		TraceMode: MaxHold,
		Blank:     true,
	}

	// detectorAverage video averages a positive detector over the sweeps
	detectorAverage = Detector{
		Name:      "av",
		RefLevel:  75,
		Function:  "POS",
		SweepRule: "NORM",
		TraceMode: VideoAverage,
	}

	// detectorQuasiPeak narrows the span to 500 kHz and uses the QPE
	// detector with the accelerated sweep rule
	detectorQuasiPeak = Detector{
		Name:      "qp",
		RefLevel:  85,
		StopFreq:  QuasiPeakStopFreq,
		Function:  "QPE",
		SweepRule: "ACC",
		TraceMode: MaxHold,
	}
)

// Recipe returns the fixed recipe for k.  It panics for a Kind that did not
// come from the constants or ParseKind.
func (k Kind) Recipe() Recipe {
	switch k {
	case Peak:
		return Recipe{Kind: k, Detector: detectorPeak, Limit: limitQuasiPeak, Sweeps: 200}
	case Average:
		return Recipe{Kind: k, Detector: detectorAverage, Limit: limitAverage, Sweeps: 100}
	case QuasiPeak:
		return Recipe{Kind: k, Detector: detectorQuasiPeak, Limit: limitQuasiPeak, Sweeps: 10}
	}
	panic(fmt.Sprintf("scan: no recipe for %v", k))
}

// Commands is the full configuration sequence of the recipe: span and unit,
// then the detector, then the limit line.  The limit display depends on the
// detector settings being in place first.
func (r Recipe) Commands() []string {
	cmds := conducted()
	cmds = append(cmds, r.Detector.Commands(r.Sweeps)...)
	cmds = append(cmds, r.Limit.Commands()...)
	return cmds
}
