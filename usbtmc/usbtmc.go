/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  It covers the bulk transfer mode used by spectrum
analyzers that speak SCPI over USB.

Messages sent to the device are a single DEV_DEP_MSG_OUT transfer, so the
command must fit in the remote's buffer.  Replies may span several
DEV_DEP_MSG_IN transfers; Read keeps requesting until the device sets EOM.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read header and send it on the Out endpoint
2.  Read from the In endpoint until transferSize bytes of payload arrived
3.  Repeat while the EOM bit is clear

These macros are implemented as Write() and Read() on the Device type defined in this package.
*/
package usbtmc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	// reserved is the byte to insert when the standard reserves a field
	reserved = 0x00

	// headerSize is the size of every bulk header, USBTMC table 1
	headerSize = 12

	// alignment is the transfer size multiple required on bulk out
	alignment = 4

	msgDevDepOut       = 0x01
	msgRequestDevDepIn = 0x02
)

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 0, min: 1}
}

// nextbTag yields 1..255, never 0, wrapping back to 1
func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int) [headerSize]byte {
	out := [headerSize]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // always end of message, one transfer per command
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 TermCharEnabled
	9 terminator byte
	10~11 reserved
	*/
	out[0] = msgRequestDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// bulkInHeader is the decoded form of a DEV_DEP_MSG_IN header, USBTMC table 9
type bulkInHeader struct {
	tag  byte
	size int
	eom  bool
}

// decBulkInHeader parses the first 12 bytes of a bulk in transfer and checks
// that it answers the request carrying tag
func decBulkInHeader(b []byte, tag byte) (bulkInHeader, error) {
	var h bulkInHeader
	if len(b) < headerSize {
		return h, fmt.Errorf("only received %d bytes, need at least %d to form header", len(b), headerSize)
	}
	if b[0] != msgRequestDevDepIn {
		return h, fmt.Errorf("unexpected MsgID %#02x in bulk in header", b[0])
	}
	if b[1] != tag || b[2] != invbTag(tag) {
		return h, fmt.Errorf("bTag mismatch, sent %d got %d (inverse %d)", tag, b[1], b[2])
	}
	h.tag = b[1]
	h.size = int(binary.LittleEndian.Uint32(b[4:8]))
	h.eom = b[8]&0x01 != 0
	return h, nil
}

// frameOut prepends the bulk out header to b and pads to the 4 byte alignment
func frameOut(tag byte, b []byte) []byte {
	hdr := encBulkOutHeader(tag, len(b))
	out := make([]byte, 0, headerSize+len(b)+alignment)
	out = append(out, hdr[:]...)
	out = append(out, b...)
	if residual := len(out) % alignment; residual > 0 {
		// make zeroes the padding
		out = append(out, make([]byte, alignment-residual)...)
	}
	return out
}

// bulkWriter is the subset of gousb.OutEndpoint used to send frames
type bulkWriter interface {
	WriteContext(ctx context.Context, b []byte) (int, error)
}

// bulkReader is the subset of gousb.InEndpoint used to receive frames
type bulkReader interface {
	ReadContext(ctx context.Context, b []byte) (int, error)
}

// link is the framing state machine shared by Device and the tests;
// it knows nothing about how the endpoints were opened
type link struct {
	tagger   BTagger
	in       bulkReader
	out      bulkWriter
	term     *byte
	readSize int
	packet   int
}

func (l *link) writeAll(ctx context.Context, b []byte) error {
	for len(b) > 0 {
		n, err := l.out.WriteContext(ctx, b)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("wrote 0 of %d bytes", len(b))
		}
		b = b[n:]
	}
	return nil
}

func (l *link) write(ctx context.Context, b []byte) error {
	return l.writeAll(ctx, frameOut(l.tagger.nextbTag(), b))
}

// inBufSize is the read buffer length, a whole number of packets large
// enough for a header, a full transfer and its alignment padding
func (l *link) inBufSize() int {
	need := headerSize + l.readSize + alignment
	pkt := l.packet
	if pkt <= 0 {
		pkt = 64
	}
	return ((need + pkt - 1) / pkt) * pkt
}

func (l *link) read(ctx context.Context) ([]byte, error) {
	var msg []byte
	buf := make([]byte, l.inBufSize())
	for {
		tag := l.tagger.nextbTag()
		req := encBulkInHeader(tag, l.readSize, l.term)
		if err := l.writeAll(ctx, req[:]); err != nil {
			return msg, err
		}
		n, err := l.in.ReadContext(ctx, buf)
		if err != nil {
			return msg, err
		}
		hdr, err := decBulkInHeader(buf[:n], tag)
		if err != nil {
			return msg, err
		}
		data := append([]byte(nil), buf[headerSize:n]...)
		for len(data) < hdr.size {
			n, err = l.in.ReadContext(ctx, buf)
			if err != nil {
				return msg, err
			}
			if n == 0 {
				return msg, fmt.Errorf("short transfer, got %d of %d bytes", len(data), hdr.size)
			}
			data = append(data, buf[:n]...)
		}
		msg = append(msg, data[:hdr.size]...)
		if hdr.eom {
			return msg, nil
		}
	}
}
