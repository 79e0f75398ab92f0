package scan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an Instrument that logs every command and answers the sweep
// count query from a scripted sequence
type recorder struct {
	log       []string
	counts    []int
	countErr  error
	sweepTime string
	timeouts  []time.Duration
	polls     int
}

func (r *recorder) Write(cmd string) error {
	r.log = append(r.log, cmd)
	return nil
}

func (r *recorder) Send(cmd string) error {
	r.log = append(r.log, "send "+cmd)
	return nil
}

func (r *recorder) Ask(query string, timeout time.Duration) (string, error) {
	r.log = append(r.log, query)
	switch query {
	case ":SENSE:SWEEP:TIME?":
		return r.sweepTime, nil
	case ":SENSE:SWEEP:COUNT:CURRENT?":
		r.timeouts = append(r.timeouts, timeout)
		if r.countErr != nil {
			return "", r.countErr
		}
		i := r.polls
		if i >= len(r.counts) {
			i = len(r.counts) - 1
		}
		r.polls++
		return strconv.Itoa(r.counts[i]), nil
	}
	return "", errors.New("unexpected query " + query)
}

func (r *recorder) Timeout() time.Duration { return time.Second }

func indexOf(t *testing.T, log []string, cmd string) int {
	t.Helper()
	for i, c := range log {
		if c == cmd {
			return i
		}
	}
	t.Fatalf("%q was never issued", cmd)
	return -1
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(strings.ToUpper(k.String()))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("ep")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRecipeSweeps(t *testing.T) {
	assert.Equal(t, 200, Peak.Recipe().Sweeps)
	assert.Equal(t, 100, Average.Recipe().Sweeps)
	assert.Equal(t, 10, QuasiPeak.Recipe().Sweeps)
	assert.Panics(t, func() { Kind(0).Recipe() })
}

func TestPeakUsesQuasiPeakLimit(t *testing.T) {
	assert.Equal(t, "qp", Peak.Recipe().Limit.Name)
	assert.Equal(t, "av", Average.Recipe().Limit.Name)
}

func TestLimitData(t *testing.T) {
	assert.Equal(t, "150000,66,0,500000,56,1,5000000,56,1,5000001,60,1,35000000,60,1", limitQuasiPeak.Data())
	assert.Equal(t, "150000,55,0,500000,46,1,5000000,46,1,5000001,50,1,35000000,50,1", limitAverage.Data())
	for i := range limitQuasiPeak.Points {
		assert.Greater(t, limitQuasiPeak.Points[i].Amplitude, limitAverage.Points[i].Amplitude)
	}
}

func TestLimitCommands(t *testing.T) {
	cmds := limitAverage.Commands()
	assert.Equal(t, ":CONF:PF", cmds[0])
	assert.Equal(t, ":CALC:LLIN2:DATA "+limitAverage.Data(), cmds[len(cmds)-2])
	assert.Equal(t, ":calculate:lline2:control:interpolate:type logarithmic", cmds[len(cmds)-1])
}

func TestDetectorCommands(t *testing.T) {
	av := detectorAverage.Commands(100)
	assert.Contains(t, av, ":TRAC1:MODE VID")
	assert.Equal(t, ":TRAC1:AVER:COUNT 100", av[len(av)-1])
	assert.NotContains(t, av, ":SENS:FREQ:STOP 500000")

	pk := detectorPeak.Commands(200)
	assert.Equal(t, []string{":TRAC1:MODE BLANK", ":TRAC1:MODE MAXH"}, pk[len(pk)-2:])
	assert.Contains(t, pk, ":SENS:DET:FUNC POS")
	assert.Contains(t, pk, ":SENS:SWE:TIME:AUTO:RUL NORM")

	qp := detectorQuasiPeak.Commands(10)
	assert.Contains(t, qp, ":SENS:FREQ:STOP 500000")
	assert.Contains(t, qp, ":SENS:DET:FUNC QPE")
	assert.Contains(t, qp, ":SENS:SWE:TIME:AUTO:RUL ACC")
	assert.Equal(t, ":TRAC1:MODE MAXH", qp[len(qp)-1])
}

func TestQuasiPeakConfigurationOrder(t *testing.T) {
	inst := &recorder{counts: []int{10}, sweepTime: "0.5"}
	r := &Runner{Instrument: inst, PollInterval: time.Millisecond}
	require.NoError(t, r.Run(context.Background(), QuasiPeak.Recipe()))

	span := indexOf(t, inst.log, ":SENS:FREQ:STOP 30000000")
	unit := indexOf(t, inst.log, ":UNIT:POW DBUV")
	narrow := indexOf(t, inst.log, ":SENS:FREQ:STOP 500000")
	det := indexOf(t, inst.log, ":SENS:DET:FUNC QPE")
	limit := indexOf(t, inst.log, ":CALC:LLIN2:DATA "+limitQuasiPeak.Data())
	count := indexOf(t, inst.log, ":SENS:SWE:COUN 10")
	start := indexOf(t, inst.log, "send :INIT:IMM")

	assert.Less(t, span, unit)
	assert.Less(t, unit, narrow)
	assert.Less(t, narrow, det)
	assert.Less(t, det, limit)
	assert.Less(t, limit, count)
	assert.Less(t, count, start)

	// the configuration prefix is exactly the recipe sequence
	want := QuasiPeak.Recipe().Commands()
	assert.Equal(t, want, inst.log[:len(want)])
}

func TestPollStopsWhenTargetFirstReached(t *testing.T) {
	inst := &recorder{counts: []int{0, 0, 2, 4, 5, 5, 5}, sweepTime: "0.2"}
	var seen []Status
	r := &Runner{
		Instrument:   inst,
		PollInterval: time.Millisecond,
		Progress:     ProgressFunc(func(s Status) { seen = append(seen, s) }),
	}
	rec := QuasiPeak.Recipe()
	rec.Sweeps = 5
	require.NoError(t, r.Run(context.Background(), rec))
	assert.Equal(t, 5, inst.polls)
	require.Len(t, seen, 5)
	assert.Equal(t, 5, seen[4].Count)
	assert.Equal(t, 5, seen[4].Target)
	assert.Equal(t, time.Second, seen[0].Total)
}

func TestPollNeverStopsEarly(t *testing.T) {
	sequences := [][]int{
		{0, 1, 2, 3, 4},
		{3, 3, 3, 3, 3, 3, 4},
		{4},
		{0, 0, 0, 0, 0, 0, 0, 0, 9},
	}
	for _, seq := range sequences {
		inst := &recorder{counts: seq, sweepTime: "1"}
		r := &Runner{Instrument: inst, PollInterval: time.Microsecond}
		require.NoError(t, r.wait(context.Background(), 4, time.Second, time.Now()))
		first := 0
		for i, c := range seq {
			if c >= 4 {
				first = i + 1
				break
			}
		}
		assert.Equal(t, first, inst.polls, "%v", seq)
	}
}

func TestPollTimeoutIsSweepTimeWithMargin(t *testing.T) {
	inst := &recorder{counts: []int{1}, sweepTime: "20"}
	r := &Runner{Instrument: inst, PollInterval: time.Millisecond}
	rec := Peak.Recipe()
	rec.Sweeps = 1
	require.NoError(t, r.Run(context.Background(), rec))
	require.Len(t, inst.timeouts, 1)
	assert.Equal(t, 22*time.Second, inst.timeouts[0])

	// short sweeps never poll with less than the session timeout
	inst = &recorder{counts: []int{1}, sweepTime: "0.01"}
	r.Instrument = inst
	require.NoError(t, r.Run(context.Background(), rec))
	assert.Equal(t, time.Second, inst.timeouts[0])
}

func TestPollErrorAborts(t *testing.T) {
	boom := errors.New("timeout")
	inst := &recorder{countErr: boom, sweepTime: "1"}
	r := &Runner{Instrument: inst, PollInterval: time.Millisecond}
	err := r.Run(context.Background(), Average.Recipe())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, inst.timeouts, 1)
}

func TestPollHonorsContext(t *testing.T) {
	inst := &recorder{counts: []int{0}, sweepTime: "1"}
	r := &Runner{Instrument: inst, PollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.wait(ctx, 3, time.Second, time.Now())
	assert.Error(t, err)
}

func TestParseCount(t *testing.T) {
	n, err := parseCount("7\n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = parseCount("1.000000e+01")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	_, err = parseCount("x")
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	s := Status{Elapsed: 75 * time.Second, Total: 200 * time.Second, Count: 3, Target: 10}
	assert.Equal(t, "[01:15/03:20] sweep 3/10", s.String())
}

func TestRunQuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	inst := &recorder{counts: []int{10}, sweepTime: "0.5"}
	r := &Runner{
		Instrument:   inst,
		PollInterval: time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	require.NoError(t, r.Run(context.Background(), QuasiPeak.Recipe()))
	// the progress line owns the terminal while the sweep runs
	assert.Empty(t, buf.String())
}
