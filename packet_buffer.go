package astibits

import (
	"bytes"
	"context"
	"io"

	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

// m2tsPrefixSize is the size of the timecode preceding each 188 bytes packet in a 192 bytes packet
const m2tsPrefixSize = M2TsPacketSize - MpegTsPacketSize

// PacketReader reads whole packets out of a reader and exposes their first 188 bytes
// M2TS timecodes and FEC parity bytes are stripped
// The bytes and the packet returned by Next* are only valid until the next call
type PacketReader struct {
	b          []byte
	ctx        context.Context
	l          astikit.CompleteLogger
	p          Packet
	packetSize int
	r          io.Reader
}

// PacketReaderOpt represents a packet reader option
type PacketReaderOpt func(pr *PacketReader)

// PacketReaderOptPacketSize returns the option to set the packet size and disable auto detection
func PacketReaderOptPacketSize(packetSize int) PacketReaderOpt {
	return func(pr *PacketReader) {
		pr.packetSize = packetSize
	}
}

// PacketReaderOptLogger returns the option to set the logger
func PacketReaderOptLogger(l astikit.StdLogger) PacketReaderOpt {
	return func(pr *PacketReader) {
		pr.l = astikit.AdaptStdLogger(l)
	}
}

// NewPacketReader creates a new packet reader
func NewPacketReader(ctx context.Context, r io.Reader, opts ...PacketReaderOpt) (pr *PacketReader) {
	// Init
	pr = &PacketReader{
		ctx: ctx,
		l:   astikit.AdaptStdLogger(nil),
		r:   r,
	}

	// Apply options
	for _, opt := range opts {
		opt(pr)
	}
	return
}

// PacketSize returns the packet size, 0 until it has been detected
func (pr *PacketReader) PacketSize() int {
	if pr.b == nil {
		return 0
	}
	return pr.packetSize
}

// NextBytes retrieves the 188 bytes of the next packet
func (pr *PacketReader) NextBytes() (b []byte, err error) {
	// Check ctx error
	if err = pr.ctx.Err(); err != nil {
		return
	}

	// Init buffer
	if pr.b == nil {
		if err = pr.init(); err != nil {
			err = errors.Wrap(err, "astibits: initializing packet reader failed")
			return
		}
	}

	// Read
	if _, err = io.ReadFull(pr.r, pr.b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = ErrNoMorePackets
		} else {
			err = errors.Wrapf(err, "astibits: reading %d bytes failed", pr.packetSize)
		}
		return
	}

	// Strip framing
	b = pr.b
	if pr.packetSize == M2TsPacketSize {
		b = b[m2tsPrefixSize:]
	}
	b = b[:MpegTsPacketSize]
	return
}

// NextPacket retrieves and decodes the next packet
func (pr *PacketReader) NextPacket() (p *Packet, err error) {
	// Get next bytes
	var b []byte
	if b, err = pr.NextBytes(); err != nil {
		return
	}

	// Decode
	if err = pr.p.Decode(b); err != nil {
		err = errors.Wrap(err, "astibits: decoding packet failed")
		return
	}
	p = &pr.p
	return
}

func (pr *PacketReader) init() (err error) {
	switch pr.packetSize {
	case 0:
		// Auto detect packet size
		if pr.packetSize, err = pr.autoDetectPacketSize(); err != nil {
			err = errors.Wrap(err, "astibits: auto detecting packet size failed")
			return
		}
		pr.l.Debugf("astibits: detected packet size is %d", pr.packetSize)
	case MpegTsPacketSize, M2TsPacketSize, FECPacketSize:
	default:
		err = errors.Errorf("astibits: packet size %d is not supported", pr.packetSize)
		return
	}
	pr.b = make([]byte, pr.packetSize)
	return
}

// autoDetectPacketSize detects the packet size based on the position of the first 2 sync bytes
// Assumption is made that the reader starts at the beginning of a packet
func (pr *PacketReader) autoDetectPacketSize() (packetSize int, err error) {
	// Read first bytes
	const l = M2TsPacketSize + m2tsPrefixSize + 1
	b := make([]byte, l)
	if _, err = io.ReadFull(pr.r, b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = ErrNoMorePackets
		} else {
			err = errors.Wrapf(err, "astibits: reading first %d bytes failed", l)
		}
		return
	}

	// Look for sync bytes
	switch {
	case b[0] == syncByte && b[MpegTsPacketSize] == syncByte:
		packetSize = MpegTsPacketSize
	case b[0] == syncByte && b[FECPacketSize] == syncByte:
		packetSize = FECPacketSize
	case b[m2tsPrefixSize] == syncByte && b[m2tsPrefixSize+M2TsPacketSize] == syncByte:
		packetSize = M2TsPacketSize
	case b[0] != syncByte && b[m2tsPrefixSize] != syncByte:
		err = ErrPacketMustStartWithASyncByte
		return
	default:
		err = errors.Errorf("astibits: no packet size matches sync bytes in first %d bytes", l)
		return
	}

	// Rewind or replay first bytes
	var n int64
	if n, err = rewind(pr.r); err != nil {
		err = errors.Wrap(err, "astibits: rewinding failed")
		return
	} else if n == -1 {
		pr.r = io.MultiReader(bytes.NewReader(b), pr.r)
	}
	return
}

// rewind rewinds the reader if possible, otherwise n = -1
func rewind(r io.Reader) (n int64, err error) {
	if s, ok := r.(io.Seeker); ok {
		if n, err = s.Seek(0, io.SeekStart); err != nil {
			err = errors.Wrap(err, "astibits: seeking to 0 failed")
			return
		}
		return
	}
	n = -1
	return
}
