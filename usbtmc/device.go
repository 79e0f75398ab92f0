package usbtmc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

const (
	// readSize is the transferSize requested per DEV_DEP_MSG_IN
	readSize = 4096
)

var (
	// ErrDeviceNotFound is generated when no device with the requested VID:PID
	// is enumerated on the bus
	ErrDeviceNotFound = errors.New("usbtmc: device not found")

	// ErrNoBulkEndpoints is generated when the default interface lacks a
	// bulk in / bulk out pair
	ErrNoBulkEndpoints = errors.New("usbtmc: default interface has no bulk in/out pair")
)

// OpenError describes a failure to open a device.  Transient failures, such as
// a device that is still enumerating or is held by another process, report
// Temporary() == true; callers may retry those.
type OpenError struct {
	Op  string
	Err error
}

// Error satisfies the stdlib error interface
func (e *OpenError) Error() string {
	return "usbtmc: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *OpenError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the open may succeed
func (e *OpenError) Temporary() bool { return IsTransient(e.Err) }

// IsTransient classifies low level USB errors.  A device that is missing,
// busy, interrupted or timing out may come good on retry; anything else
// (access denied, bad parameters, pipe errors) will not.
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, gousb.ErrorBusy),
		errors.Is(err, gousb.ErrorTimeout),
		errors.Is(err, gousb.ErrorNoDevice),
		errors.Is(err, gousb.ErrorNotFound),
		errors.Is(err, gousb.ErrorInterrupted),
		errors.Is(err, gousb.TransferTimedOut),
		errors.Is(err, gousb.TransferNoDevice),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// Device is a USBTMC instrument on a gousb bulk pipe pair.
// The connection is assumed to be open for the life of the value.
type Device struct {
	link

	ctx    *gousb.Context
	device *gousb.Device
	closer func()
}

// Open opens the first device matching vid:pid and claims its default
// interface.  If term is not nil, reads ask the device to end transfers on
// that byte.  All errors are *OpenError.
func Open(vid, pid uint16, term *byte) (*Device, error) {
	d := &Device{ctx: gousb.NewContext()}
	d.tagger = newBTagGen()
	d.term = term
	d.readSize = readSize

	fail := func(op string, err error) (*Device, error) {
		d.Close()
		return nil, &OpenError{Op: op, Err: err}
	}

	dev, err := d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return fail("open", err)
	}
	if dev == nil {
		return fail("open", fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, vid, pid))
	}
	d.device = dev
	if err = dev.SetAutoDetach(true); err != nil {
		return fail("detach kernel driver", err)
	}
	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		return fail("claim interface", err)
	}
	d.closer = closer

	in, out, packet, err := bulkPair(iface)
	if err != nil {
		return fail("endpoints", err)
	}
	d.packet = packet
	if d.in, err = iface.InEndpoint(in); err != nil {
		return fail("in endpoint", err)
	}
	if d.out, err = iface.OutEndpoint(out); err != nil {
		return fail("out endpoint", err)
	}
	return d, nil
}

// bulkPair finds the bulk in and bulk out endpoint numbers of the interface
// and the larger of their max packet sizes
func bulkPair(iface *gousb.Interface) (in, out, packet int, err error) {
	in, out = -1, -1
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && in < 0 {
			in = ep.Number
		} else if ep.Direction == gousb.EndpointDirectionOut && out < 0 {
			out = ep.Number
		} else {
			continue
		}
		if ep.MaxPacketSize > packet {
			packet = ep.MaxPacketSize
		}
	}
	if in < 0 || out < 0 {
		return in, out, packet, ErrNoBulkEndpoints
	}
	return in, out, packet, nil
}

// Write sends b as a single device dependent message
func (d *Device) Write(ctx context.Context, b []byte) error {
	if err := d.link.write(ctx, b); err != nil {
		return wrapIO(ctx, "write", err)
	}
	return nil
}

// Read requests and returns one complete device dependent message
func (d *Device) Read(ctx context.Context) ([]byte, error) {
	b, err := d.link.read(ctx)
	if err != nil {
		return nil, wrapIO(ctx, "read", err)
	}
	return b, nil
}

// wrapIO prefers the context error, gousb reports an expired context as a
// cancelled transfer
func wrapIO(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("usbtmc: %s: %w", op, cerr)
	}
	return fmt.Errorf("usbtmc: %s: %w", op, err)
}

// Close releases the interface, the device, and the libusb context
func (d *Device) Close() error {
	var err error
	if d.closer != nil {
		d.closer()
		d.closer = nil
	}
	if d.device != nil {
		err = d.device.Close()
		d.device = nil
	}
	if d.ctx != nil {
		if cerr := d.ctx.Close(); err == nil {
			err = cerr
		}
		d.ctx = nil
	}
	return err
}
