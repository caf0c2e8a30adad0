package astibits

import (
	"github.com/pkg/errors"
)

// P-STD buffer scales
const (
	PSTDBufferScale128Bytes  = 0
	PSTDBufferScale1024Bytes = 1
)

// PTS DTS indicator
const (
	PTSDTSIndicatorBothPresent = 3
	PTSDTSIndicatorIsForbidden = 1
	PTSDTSIndicatorNoPTSOrDTS  = 0
	PTSDTSIndicatorOnlyPTS     = 2
)

// Stream IDs
const (
	StreamIDProgramStreamMap       = 0xbc
	StreamIDPrivateStream1         = 0xbd
	StreamIDPaddingStream          = 0xbe
	StreamIDPrivateStream2         = 0xbf
	StreamIDECM                    = 0xf0
	StreamIDEMM                    = 0xf1
	StreamIDDSMCC                  = 0xf2
	StreamIDH2221TypeE             = 0xf8
	StreamIDProgramStreamDirectory = 0xff
)

// Trick mode controls
const (
	TrickModeControlFastForward = 0
	TrickModeControlFastReverse = 3
	TrickModeControlFreezeFrame = 2
	TrickModeControlSlowMotion  = 1
	TrickModeControlSlowReverse = 4
)

const (
	pesExtension2DataSize = 128
	pesPrivateDataSize    = 16
)

// PESData represents a PES data
// https://en.wikipedia.org/wiki/Packetized_elementary_stream
// http://dvd.sourceforge.net/dvdinfo/pes-hdr.html
// http://happy.emu.id.au/lab/tut/dttb/dtbtut4b.htm
type PESData struct {
	Data   []byte // Points to the decoded buffer
	Header PESHeader
}

// PESHeader represents a packet PES header
type PESHeader struct {
	HasOptionalHeader     bool
	OptionalHeader        PESOptionalHeader // Only meaningful when HasOptionalHeader is true
	PacketLength          uint16            // Specifies the number of bytes remaining in the packet after this field. Can be zero. If the PES packet length is set to zero, the PES packet can be of any length. A value of zero for the PES packet length can be used only when the PES packet payload is a video elementary stream.
	PacketStartCodePrefix uint32            // Should be 0x000001
	StreamID              uint8             // Examples: Audio streams (0xC0-0xDF), Video streams (0xE0-0xEF)
}

// PESOptionalHeader represents a PES optional header
type PESOptionalHeader struct {
	AdditionalCopyInfo              uint8
	CRC                             uint16
	DataAlignmentIndicator          bool // True indicates that the PES packet header is immediately followed by the video start code or audio syncword
	DSMTrickMode                    DSMTrickMode
	DTS                             ClockReference
	ESCR                            ClockReference
	ESRate                          uint32
	Extension2Length                uint8
	HasAdditionalCopyInfo           bool
	HasCRC                          bool
	HasDSMTrickMode                 bool
	HasESCR                         bool
	HasESRate                       bool
	HasExtension                    bool
	HasExtension2                   bool
	HasPackHeaderField              bool
	HasPrivateData                  bool
	HasProgramPacketSequenceCounter bool
	HasPSTDBuffer                   bool
	HeaderLength                    uint8
	IsCopyrighted                   bool
	IsOriginal                      bool
	MarkerBits                      uint8
	MPEG1OrMPEG2ID                  uint8
	OriginalStuffingLength          uint8
	PackFieldLength                 uint8
	PackHeader                      []byte // Points to the decoded buffer
	PacketSequenceCounter           uint8
	Priority                        bool
	PrivateData                     [pesPrivateDataSize]byte
	PSTDBufferScale                 uint8
	PSTDBufferSize                  uint16
	PTS                             ClockReference
	PTSDTSIndicator                 uint8
	ScramblingControl               uint8

	extension2Data [pesExtension2DataSize]byte
}

// Extension2Data returns the copied PES extension 2 data
func (h *PESOptionalHeader) Extension2Data() []byte {
	return h.extension2Data[:h.Extension2Length]
}

// DSMTrickMode represents a DSM trick mode
// https://books.google.fr/books?id=vwUrAwAAQBAJ&pg=PT501&lpg=PT501&dq=dsm+trick+mode+control&source=bl&ots=fI-9IHXMRL&sig=PWnhxrsoMWNQcl1rMCPmJGNO9Ds&hl=fr&sa=X&ved=0ahUKEwjogafD8bjXAhVQ3KQKHeHKD5oQ6AEINDAB#v=onepage&q=dsm%20trick%20mode%20control&f=false
type DSMTrickMode struct {
	FieldID             uint8
	FrequencyTruncation uint8
	IntraSliceRefresh   bool
	RepeatControl       uint8
	TrickModeControl    uint8
}

// IsPESPayload checks whether the payload starts with the PES start code prefix
func IsPESPayload(i []byte) bool {
	// Packet is not big enough
	if len(i) < 3 {
		return false
	}

	// Check prefix
	return uint32(i[0])<<16|uint32(i[1])<<8|uint32(i[2]) == 1
}

// hasPESOptionalHeader checks whether the data has a PES optional header
func hasPESOptionalHeader(streamID uint8) bool {
	switch streamID {
	case StreamIDProgramStreamMap, StreamIDPaddingStream, StreamIDPrivateStream2, StreamIDECM, StreamIDEMM,
		StreamIDProgramStreamDirectory, StreamIDDSMCC, StreamIDH2221TypeE:
		return false
	}
	return true
}

// ParsePES parses a PES header and exposes the rest of b as its data
func ParsePES(b []byte) (d *PESData, err error) {
	d = &PESData{}
	if err = d.Decode(b); err != nil {
		d = nil
	}
	return
}

// Decode decodes a PES header and exposes the rest of b as its data
// Data and pack header point to b
// Optional fields using more bytes than the header length fail with ErrMalformedLength, even with a valid
// start code: the stuffing skip can't be trusted to have left the cursor at the start of the data
// When the cursor runs out while reading optional fields, a start code of 1 is still a success with no data
func (d *PESData) Decode(b []byte) (err error) {
	// Reset
	*d = PESData{}

	// Create cursor
	var c BitCursor
	c.Reset(b)

	// Parse header
	d.Header.PacketStartCodePrefix = readUint[uint32](&c, 24)
	d.Header.StreamID = readUint[uint8](&c, 8)
	d.Header.PacketLength = readUint[uint16](&c, 16)
	if err = c.Err(); err != nil {
		err = errors.Wrap(err, "astibits: parsing PES header failed")
		return
	}

	// Optional header
	if hasPESOptionalHeader(d.Header.StreamID) {
		d.Header.HasOptionalHeader = true
		if err = d.Header.OptionalHeader.decode(&c); err != nil {
			err = errors.Wrap(err, "astibits: parsing PES optional header failed")
			return
		}
	}

	// The cursor may have run out while reading optional fields that the header length accounts for.
	// This is tolerated as long as the start code is valid, in which case there's no data.
	if err = c.Err(); err != nil {
		if d.Header.PacketStartCodePrefix != 1 {
			err = errors.Wrap(err, "astibits: parsing PES optional header failed")
			return
		}
		logger.Debugf("astibits: PES header of stream 0x%x is truncated, tolerating it: %s", d.Header.StreamID, err)
		err = nil
		return
	}

	// Data
	if c.Offset() < len(b) {
		d.Data = b[c.Offset():]
	}
	return
}

// decode parses the PES optional header and skips its stuffing bytes
// Errors raised while reading optional fields are left in the cursor, only failures to skip stuffing
// bytes and length inconsistencies are returned
func (h *PESOptionalHeader) decode(c *BitCursor) (err error) {
	// Flags
	h.MarkerBits = readUint[uint8](c, 2)
	h.ScramblingControl = readUint[uint8](c, 2)
	h.Priority = c.ReadBit()
	h.DataAlignmentIndicator = c.ReadBit()
	h.IsCopyrighted = c.ReadBit()
	h.IsOriginal = c.ReadBit()
	h.PTSDTSIndicator = readUint[uint8](c, 2)
	h.HasESCR = c.ReadBit()
	h.HasESRate = c.ReadBit()
	h.HasDSMTrickMode = c.ReadBit()
	h.HasAdditionalCopyInfo = c.ReadBit()
	h.HasCRC = c.ReadBit()
	h.HasExtension = c.ReadBit()

	// Header length
	h.HeaderLength = readUint[uint8](c, 8)
	offsetStart := c.Offset()

	// PTS/DTS
	switch h.PTSDTSIndicator {
	case PTSDTSIndicatorOnlyPTS:
		c.SkipBits(4)
		h.PTS = parseTimestamp(c)
	case PTSDTSIndicatorBothPresent:
		c.SkipBits(4)
		h.PTS = parseTimestamp(c)
		c.SkipBits(4)
		h.DTS = parseTimestamp(c)
	}

	// ESCR
	if h.HasESCR {
		h.ESCR = parseESCR(c)
	}

	// ES rate
	if h.HasESRate {
		c.SkipBits(1)
		h.ESRate = readUint[uint32](c, 22)
		c.SkipBits(1)
	}

	// Trick mode
	if h.HasDSMTrickMode {
		h.DSMTrickMode.decode(c)
	}

	// Additional copy info
	if h.HasAdditionalCopyInfo {
		c.SkipBits(1)
		h.AdditionalCopyInfo = readUint[uint8](c, 7)
	}

	// CRC
	if h.HasCRC {
		h.CRC = readUint[uint16](c, 16)
	}

	// Extension
	if h.HasExtension {
		h.decodeExtension(c)
	}

	// Nothing more to do if the cursor failed
	if c.Err() != nil {
		return
	}

	// Optional fields must fit in the header length
	consumed := c.Offset() - offsetStart
	if consumed > int(h.HeaderLength) {
		err = errors.Wrapf(ErrMalformedLength, "astibits: PES header length is %d but optional fields use %d bytes", h.HeaderLength, consumed)
		return
	}

	// Skip stuffing bytes
	for ; consumed < int(h.HeaderLength); consumed++ {
		c.SkipBytes(1)
		if err = c.Err(); err != nil {
			err = errors.Wrap(err, "astibits: skipping PES header stuffing bytes failed")
			return
		}
	}
	return
}

func (h *PESOptionalHeader) decodeExtension(c *BitCursor) {
	// Flags
	h.HasPrivateData = c.ReadBit()
	h.HasPackHeaderField = c.ReadBit()
	h.HasProgramPacketSequenceCounter = c.ReadBit()
	h.HasPSTDBuffer = c.ReadBit()
	c.SkipBits(3)
	h.HasExtension2 = c.ReadBit()

	// Private data
	if h.HasPrivateData {
		c.ReadBytes(h.PrivateData[:])
	}

	// Pack header
	if h.HasPackHeaderField {
		h.PackFieldLength = readUint[uint8](c, 8)
		h.PackHeader = c.Borrow(int(h.PackFieldLength))
	}

	// Program packet sequence counter
	if h.HasProgramPacketSequenceCounter {
		c.SkipBits(1)
		h.PacketSequenceCounter = readUint[uint8](c, 7)
		c.SkipBits(1)
		h.MPEG1OrMPEG2ID = readUint[uint8](c, 1)
		h.OriginalStuffingLength = readUint[uint8](c, 6)
	}

	// P-STD buffer
	if h.HasPSTDBuffer {
		c.SkipBits(2)
		h.PSTDBufferScale = readUint[uint8](c, 1)
		h.PSTDBufferSize = readUint[uint16](c, 13)
	}

	// Extension 2
	if h.HasExtension2 {
		c.SkipBits(1)
		h.Extension2Length = readUint[uint8](c, 7)
		c.ReadBytes(h.extension2Data[:h.Extension2Length])
	}
}

// decode parses a DSM trick mode
func (m *DSMTrickMode) decode(c *BitCursor) {
	m.TrickModeControl = readUint[uint8](c, 3)
	switch m.TrickModeControl {
	case TrickModeControlFastForward, TrickModeControlFastReverse:
		m.FieldID = readUint[uint8](c, 2)
		m.IntraSliceRefresh = c.ReadBit()
		m.FrequencyTruncation = readUint[uint8](c, 2)
	case TrickModeControlFreezeFrame:
		m.FieldID = readUint[uint8](c, 2)
		c.SkipBits(3)
	case TrickModeControlSlowMotion, TrickModeControlSlowReverse:
		m.RepeatControl = readUint[uint8](c, 5)
	default:
		c.SkipBits(5)
	}
}
