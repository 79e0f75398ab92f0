package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/knadh/koanf"
	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/emcscan/scan"
	"github.jpl.nasa.gov/bdube/emcscan/scpi"
	"github.jpl.nasa.gov/bdube/emcscan/usbtmc"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "emcscan.yml"
	k              = koanf.New(".")
)

func root() {
	str := `emcscan runs an EMC conducted emissions scan on a USB spectrum analyzer
and saves traces 1 and 2 to a CSV file.

Usage:
	emcscan <scan type> <name>
	emcscan <command>

Scan types:
	pk	peak detector, max hold, 200 sweeps
	av	average detector, video average, 100 sweeps
	qp	quasi-peak detector, max hold, 10 sweeps, 150-500 kHz

Commands:
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `emcscan is amenable to configuration via its .yaml file, emcscan.yml in the
working directory.  Any key may also be set from the environment with the
EMCSCAN_ prefix, e.g. EMCSCAN_TIMEOUT=2.  "emcscan mkconf" writes the defaults.

All times are in seconds.

The scan writes <name>.csv with columns Frequency, Trace 1, Trace 2.  The
frequency axis is log spaced between the analyzer's start and stop frequency.

Connecting retries for as long as the analyzer is busy or not yet enumerated;
set maxopenattempts or opendeadline to bound that.  Any other error, or a
timeout during the scan, aborts without saving.`
	fmt.Println(str)
}

func mkconf() error {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(c)
}

func printconf() error {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return err
	}
	return yml.NewEncoder(os.Stdout).Encode(c)
}

func pversion() {
	fmt.Printf("emcscan version %v\n", Version)
}

// usbOpener opens the analyzer named by the config over USBTMC
func usbOpener(c Config) scpi.Opener {
	return func() (scpi.Transport, error) {
		dev, err := usbtmc.Open(c.VID, c.PID, c.terminator())
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// measure connects, calibrates, runs the scan and saves the traces.  Progress
// is drawn on out.  Nothing is saved unless the scan completes.
func measure(ctx context.Context, log *slog.Logger, c Config, open scpi.Opener, out io.Writer, kind scan.Kind, name string) error {
	opts := c.sessionOptions()
	opts.Logger = log
	log.Info("connecting", "vid", fmt.Sprintf("%04x", c.VID), "pid", fmt.Sprintf("%04x", c.PID))
	sess, err := scpi.Open(ctx, open, opts)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()
	id := sess.Identity()
	log.Info("connected", "manufacturer", id.Manufacturer, "model", id.Model)

	if err = sess.Reset(); err != nil {
		return err
	}
	if c.Calibrate {
		// calibrate now so it doesn't interrupt the scan
		log.Info("calibrating")
		if err = sess.Calibrate(); err != nil {
			return err
		}
	}

	rec := kind.Recipe()
	// nothing may log at info while the spinner owns the terminal
	log.Info("performing scan", "type", kind.String(), "sweeps", rec.Sweeps)
	sp, err := newSpinner(out, kind)
	if err != nil {
		return err
	}
	runner := scan.Runner{
		Instrument:   sess,
		Progress:     sp,
		PollInterval: c.pollInterval(),
		Logger:       log,
	}
	if err = sp.Start(); err != nil {
		return err
	}
	err = runner.Run(ctx, rec)
	sp.Stop(err)
	if err != nil {
		return err
	}

	path := name + ".csv"
	log.Info("saving traces", "path", path, "traces", c.Traces)
	return sess.ExportCSV(path, c.Traces...)
}

// scanArgs parses "<scan type> <name>".  It fails before anything touches
// the instrument, so an unknown type never reaches measure or the export.
func scanArgs(args []string) (scan.Kind, string, error) {
	if len(args) == 0 {
		return 0, "", errors.New("usage: emcscan <pk|av|qp> <name>")
	}
	kind, err := scan.ParseKind(args[0])
	if err != nil {
		return 0, "", err
	}
	if len(args) < 2 || args[1] == "" {
		return 0, "", errors.New("usage: emcscan <pk|av|qp> <name>")
	}
	return kind, args[1], nil
}

func run(kind scan.Kind, name string) error {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err == nil {
		err = c.validate()
	}
	var log *slog.Logger
	if err == nil {
		log, err = newLogger(os.Stderr, c)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err = measure(ctx, log, c, usbOpener(c), os.Stdout, kind, name)
	if err != nil {
		log.Error("scan failed", "err", err)
	}
	return err
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	if err := loadConfig(k, ConfigFileName); err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	var err error
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		err = mkconf()
	case "conf":
		err = printconf()
	case "version":
		pversion()
		return
	default:
		kind, name, perr := scanArgs(args[1:])
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(2)
		}
		if err = run(kind, name); err != nil {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
