package astibits

import (
	"github.com/pkg/errors"
)

// MaxElementaryStreams is the number of elementary streams a PMT can hold
const MaxElementaryStreams = 32

// pmtMinSectionLength is the syntax header, the PCR PID, the program info length and the CRC32
const pmtMinSectionLength = 13

// Stream types
const (
	StreamTypeMPEG1Video                 = 0x01 // ISO/IEC 11172-2
	StreamTypeMPEG2Video                 = 0x02 // ITU-T Rec. H.262 and ISO/IEC 13818-2
	StreamTypeMPEG1Audio                 = 0x03 // ISO/IEC 11172-3
	StreamTypeMPEG2HalvedSampleRateAudio = 0x04 // ISO/IEC 13818-3
	StreamTypeMPEG2PacketizedData        = 0x06 // ITU-T Rec. H.222 and ISO/IEC 13818-1 i.e., DVB subtitles/VBI and AC-3
	StreamTypeADTS                       = 0x0f // ISO/IEC 13818-7 Audio with ADTS transport syntax
	StreamTypeMPEG4Video                 = 0x10 // ISO/IEC 14496-2
	StreamTypeMetadata                   = 0x15
	StreamTypeH264Video                  = 0x1b // ITU-T Rec. H.264 and ISO/IEC 14496-10
	StreamTypeH265Video                  = 0x24 // ITU-T Rec. H.265 and ISO/IEC 23008-2
	StreamTypeCAVSVideo                  = 0x42 // Chinese AVS
	StreamTypeAC3Audio                   = 0x81 // ATSC A/52
	StreamTypeSCTE35                     = 0x86 // SCTE 35 splice information
	StreamTypeEAC3Audio                  = 0x87 // ATSC A/52B
)

// PMTData represents a PMT data
// https://en.wikipedia.org/wiki/Program-specific_information
type PMTData struct {
	CRC32              uint32 // Read but not verified
	Header             PSISectionHeader
	PCRPID             uint16 // The packet identifier that contains the program clock reference used to improve the random access accuracy of the stream's timing that is derived from the program timestamp. If this is unused. then it is set to 0x1FFF (all bits on).
	ProgramDescriptors DescriptorTable
	ProgramInfoLength  uint16
	ProgramNumber      uint16

	elementaryStreams      [MaxElementaryStreams]PMTElementaryStream
	elementaryStreamsCount int
}

// PMTElementaryStream represents a PMT elementary stream
type PMTElementaryStream struct {
	ElementaryPID               uint16          // The packet identifier that contains the stream type data.
	ElementaryStreamDescriptors DescriptorTable // Elementary stream descriptors
	ESInfoLength                uint16
	StreamType                  uint8 // This defines the structure of the data contained within the elementary packet identifier.
}

// ElementaryStreams returns the decoded elementary streams. The slice points to d.
func (d *PMTData) ElementaryStreams() []PMTElementaryStream {
	return d.elementaryStreams[:d.elementaryStreamsCount]
}

// ElementaryStreamByPID returns the elementary stream carried by the provided PID
func (d *PMTData) ElementaryStreamByPID(pid uint16) (*PMTElementaryStream, bool) {
	for idx := 0; idx < d.elementaryStreamsCount; idx++ {
		if d.elementaryStreams[idx].ElementaryPID == pid {
			return &d.elementaryStreams[idx], true
		}
	}
	return nil, false
}

// ParsePMT parses a PMT out of a PSI payload starting with the pointer field
func ParsePMT(b []byte) (d *PMTData, err error) {
	d = &PMTData{}
	if err = d.Decode(b); err != nil {
		d = nil
	}
	return
}

// Decode decodes a PMT out of a PSI payload starting with the pointer field
// Descriptors are copied and don't point to b
func (d *PMTData) Decode(b []byte) (err error) {
	// Reset
	*d = PMTData{}

	// Check length
	if len(b) < minPSISize {
		err = errors.Wrapf(ErrBufferExhausted, "astibits: PMT is %d bytes long, at least %d bytes expected", len(b), minPSISize)
		return
	}

	// Create cursor
	var c BitCursor
	c.Reset(b)

	// Parse header
	var offsetSectionStart int
	if offsetSectionStart, err = d.Header.decode(&c); err != nil {
		err = errors.Wrap(err, "astibits: parsing PMT header failed")
		return
	}
	d.ProgramNumber = d.Header.TableIDExtension

	// Check section length
	if d.Header.SectionLength < pmtMinSectionLength {
		err = errors.Wrapf(ErrMalformedLength, "astibits: PMT section length %d is smaller than %d", d.Header.SectionLength, pmtMinSectionLength)
		return
	}
	offsetSectionEnd := offsetSectionStart + int(d.Header.SectionLength)
	if offsetSectionEnd > len(b) {
		err = errors.Wrapf(ErrBufferExhausted, "astibits: PMT section ends at %d but buffer is %d bytes long", offsetSectionEnd, len(b))
		return
	}

	// PCR PID
	c.SkipBits(3)
	d.PCRPID = readUint[uint16](&c, 13)

	// Program descriptors
	c.SkipBits(4)
	d.ProgramInfoLength = readUint[uint16](&c, 12)
	if err = d.ProgramDescriptors.decode(&c, int(d.ProgramInfoLength)); err != nil {
		err = errors.Wrap(err, "astibits: parsing PMT program descriptors failed")
		return
	}

	// Loop until only the CRC32 is left
	for offsetSectionEnd-c.Offset() > 4 {
		// Check cursor
		if err = c.Err(); err != nil {
			err = errors.Wrapf(err, "astibits: parsing PMT elementary stream #%d failed", d.elementaryStreamsCount)
			return
		}

		// Check capacity
		if d.elementaryStreamsCount >= MaxElementaryStreams {
			err = errors.Wrapf(ErrCapacityExceeded, "astibits: PMT holds more than %d elementary streams", MaxElementaryStreams)
			return
		}

		// Parse elementary stream
		e := &d.elementaryStreams[d.elementaryStreamsCount]
		e.StreamType = readUint[uint8](&c, 8)
		c.SkipBits(3)
		e.ElementaryPID = readUint[uint16](&c, 13)
		c.SkipBits(4)
		e.ESInfoLength = readUint[uint16](&c, 12)

		// Elementary stream descriptors
		if err = e.ElementaryStreamDescriptors.decode(&c, int(e.ESInfoLength)); err != nil {
			err = errors.Wrapf(err, "astibits: parsing descriptors of elementary stream %d failed", e.ElementaryPID)
			return
		}
		d.elementaryStreamsCount++
	}

	// Loops must not have eaten into the CRC32
	if left := offsetSectionEnd - c.Offset(); left < 4 {
		err = errors.Wrapf(ErrMalformedLength, "astibits: PMT loops overran the section end, %d bytes left for the CRC32", left)
		return
	}

	// CRC32
	d.CRC32 = readUint[uint32](&c, 32)
	if err = c.Err(); err != nil {
		err = errors.Wrap(err, "astibits: parsing PMT failed")
		return
	}
	return
}
