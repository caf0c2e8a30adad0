package astibits

import (
	"github.com/pkg/errors"
)

// Scrambling Controls
const (
	ScramblingControlNotScrambled         = 0
	ScramblingControlReservedForFutureUse = 1
	ScramblingControlScrambledWithEvenKey = 2
	ScramblingControlScrambledWithOddKey  = 3
)

// Packet sizes
const (
	MpegTsPacketSize       = 188
	M2TsPacketSize         = 192 // 4 bytes timecode prefix
	FECPacketSize          = 204 // 16 bytes Reed-Solomon parity suffix
	mpegTsPacketHeaderSize = 4
)

// Sync byte
const syncByte = '\x47'

// Packet represents a packet
// https://en.wikipedia.org/wiki/MPEG_transport_stream
type Packet struct {
	AdaptationField PacketAdaptationField // Only meaningful when Header.HasAdaptationField is true
	Header          PacketHeader
	Payload         []byte // This is only the payload content. It points to the decoded buffer.
	PayloadOffset   int
}

// PacketHeader represents a packet header
type PacketHeader struct {
	ContinuityCounter          uint8 // Sequence number of payload packets (0x00 to 0x0F) within each stream (except PID 8191)
	HasAdaptationField         bool
	HasPayload                 bool
	PayloadUnitStartIndicator  bool   // Set when a PES, PSI, or DVB-MIP packet begins immediately following the header.
	PID                        uint16 // Packet Identifier, describing the payload data.
	SyncByte                   uint8
	TransportErrorIndicator    bool // Set when a demodulator can't correct errors from FEC data; indicating the packet is corrupt.
	TransportPriority          bool // Set when the current packet has a higher priority than other packets with the same PID.
	TransportScramblingControl uint8
}

// PacketAdaptationField represents a packet adaptation field
type PacketAdaptationField struct {
	AdaptationExtensionField          PacketAdaptationExtensionField // Only meaningful when HasAdaptationExtensionField is true
	DiscontinuityIndicator            bool                           // Set if current TS packet is in a discontinuity state with respect to either the continuity counter or the program clock reference
	ElementaryStreamPriorityIndicator bool                           // Set when this stream should be considered "high priority"
	HasAdaptationExtensionField       bool
	HasOPCR                           bool
	HasPCR                            bool
	HasSplicingCountdown              bool
	HasTransportPrivateData           bool
	Length                            uint8
	OPCR                              ClockReference // Original Program clock reference. Helps when one TS is copied into another
	PCR                               ClockReference // Program clock reference
	RandomAccessIndicator             bool           // Set when the stream may be decoded without errors from this point
	SpliceCountdown                   int8           // Indicates how many TS packets from this one a splicing point occurs (Two's complement signed; may be negative)
	StuffingLength                    uint8          // Number of declared bytes left after the last optional field
	TransportPrivateData              []byte         // Points to the decoded buffer
	TransportPrivateDataLength        uint8
}

// PacketAdaptationExtensionField represents a packet adaptation extension field
type PacketAdaptationExtensionField struct {
	DTSNextAccessUnit      ClockReference // The PES DTS of the splice point. Split up as 3 bits, 1 marker bit (0x1), 15 bits, 1 marker bit, 15 bits, and 1 marker bit, for 33 data bits total.
	HasLegalTimeWindow     bool
	HasPiecewiseRate       bool
	HasSeamlessSplice      bool
	LegalTimeWindowIsValid bool
	LegalTimeWindowOffset  uint16 // Extra information for rebroadcasters to determine the state of buffers when packets may be missing.
	Length                 uint8
	PiecewiseRate          uint32 // The rate of the stream, measured in 188-byte packets, to define the end-time of the LTW.
	SpliceType             uint8  // Indicates the parameters of the H.262 splice.
}

// ParsePacket parses a packet out of the first 188 bytes of b
func ParsePacket(b []byte) (p *Packet, err error) {
	p = &Packet{}
	if err = p.Decode(b); err != nil {
		p = nil
	}
	return
}

// Decode decodes a packet out of the first 188 bytes of b
// The payload and the transport private data point to b
func (p *Packet) Decode(b []byte) (err error) {
	// Reset
	*p = Packet{}

	// Buffer must hold a whole packet
	if len(b) < MpegTsPacketSize {
		err = errors.Wrapf(ErrBufferExhausted, "astibits: packet is %d bytes long, %d bytes expected", len(b), MpegTsPacketSize)
		return
	}

	// Packet must start with a sync byte
	if b[0] != syncByte {
		err = ErrPacketMustStartWithASyncByte
		return
	}

	// Create cursor
	b = b[:MpegTsPacketSize]
	var c BitCursor
	c.Reset(b)

	// Parse header
	p.Header.Decode(&c)
	if err = c.Err(); err != nil {
		err = errors.Wrap(err, "astibits: parsing packet header failed")
		return
	}

	// Parse adaptation field
	if p.Header.HasAdaptationField {
		if err = p.AdaptationField.Decode(&c); err != nil {
			err = errors.Wrap(err, "astibits: parsing packet adaptation field failed")
			return
		}
	}

	// Build payload
	p.PayloadOffset = payloadOffset(p.Header, p.AdaptationField)
	if p.PayloadOffset > MpegTsPacketSize {
		logger.Debugf("astibits: adaptation field of PID %d overflows the packet, no payload", p.Header.PID)
		p.PayloadOffset = MpegTsPacketSize
	}
	if p.Header.HasPayload && p.PayloadOffset < MpegTsPacketSize {
		p.Payload = b[p.PayloadOffset:]
	}
	return
}

// payloadOffset returns the payload offset
func payloadOffset(h PacketHeader, a PacketAdaptationField) (offset int) {
	offset = mpegTsPacketHeaderSize
	if h.HasAdaptationField {
		offset += 1 + int(a.Length)
	}
	return
}

// Decode decodes the packet header. Errors are reported through the cursor.
func (h *PacketHeader) Decode(c *BitCursor) {
	h.SyncByte = readUint[uint8](c, 8)
	h.TransportErrorIndicator = c.ReadBit()
	h.PayloadUnitStartIndicator = c.ReadBit()
	h.TransportPriority = c.ReadBit()
	h.PID = readUint[uint16](c, 13)
	h.TransportScramblingControl = readUint[uint8](c, 2)
	h.HasAdaptationField = c.ReadBit()
	h.HasPayload = c.ReadBit()
	h.ContinuityCounter = readUint[uint8](c, 4)
}

// Decode decodes the packet adaptation field
func (a *PacketAdaptationField) Decode(c *BitCursor) (err error) {
	// Reset
	*a = PacketAdaptationField{}

	// Length
	a.Length = readUint[uint8](c, 8)
	if err = c.Err(); err != nil || a.Length == 0 {
		return
	}
	offsetStart := c.Offset()

	// Flags
	a.DiscontinuityIndicator = c.ReadBit()
	a.RandomAccessIndicator = c.ReadBit()
	a.ElementaryStreamPriorityIndicator = c.ReadBit()
	a.HasPCR = c.ReadBit()
	a.HasOPCR = c.ReadBit()
	a.HasSplicingCountdown = c.ReadBit()
	a.HasTransportPrivateData = c.ReadBit()
	a.HasAdaptationExtensionField = c.ReadBit()

	// PCR
	if a.HasPCR {
		a.PCR = parsePCR(c)
	}

	// OPCR
	if a.HasOPCR {
		a.OPCR = parsePCR(c)
	}

	// Splicing countdown
	if a.HasSplicingCountdown {
		a.SpliceCountdown = int8(readUint[uint8](c, 8))
	}

	// Transport private data
	if a.HasTransportPrivateData {
		a.TransportPrivateDataLength = readUint[uint8](c, 8)
		a.TransportPrivateData = c.Borrow(int(a.TransportPrivateDataLength))
	}

	// Adaptation extension
	if a.HasAdaptationExtensionField {
		if err = a.AdaptationExtensionField.decode(c); err != nil {
			err = errors.Wrap(err, "astibits: parsing adaptation extension field failed")
			return
		}
	}

	if err = c.Err(); err != nil {
		return
	}

	// Optional fields must fit in the declared length, the rest is stuffing
	consumed := c.Offset() - offsetStart
	if consumed > int(a.Length) {
		err = errors.Wrapf(ErrMalformedLength, "astibits: adaptation field declares %d bytes but its fields use %d", a.Length, consumed)
		return
	}
	a.StuffingLength = a.Length - uint8(consumed)
	return
}

func (e *PacketAdaptationExtensionField) decode(c *BitCursor) (err error) {
	// Length
	e.Length = readUint[uint8](c, 8)
	if err = c.Err(); err != nil || e.Length == 0 {
		return
	}
	offsetStart := c.Offset()

	// Flags
	e.HasLegalTimeWindow = c.ReadBit()
	e.HasPiecewiseRate = c.ReadBit()
	e.HasSeamlessSplice = c.ReadBit()
	c.SkipBits(5)

	// Legal time window
	if e.HasLegalTimeWindow {
		e.LegalTimeWindowIsValid = c.ReadBit()
		e.LegalTimeWindowOffset = readUint[uint16](c, 15)
	}

	// Piecewise rate
	if e.HasPiecewiseRate {
		c.SkipBits(2)
		e.PiecewiseRate = readUint[uint32](c, 22)
	}

	// Seamless splice
	if e.HasSeamlessSplice {
		e.SpliceType = readUint[uint8](c, 4)
		e.DTSNextAccessUnit = parseTimestamp(c)
	}

	if err = c.Err(); err != nil {
		return
	}

	// Remaining declared bytes are reserved
	consumed := c.Offset() - offsetStart
	if consumed > int(e.Length) {
		err = errors.Wrapf(ErrMalformedLength, "astibits: adaptation extension field declares %d bytes but its fields use %d", e.Length, consumed)
		return
	}
	c.SkipBytes(int(e.Length) - consumed)
	return c.Err()
}
