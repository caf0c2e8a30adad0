package astibits

import (
	"github.com/pkg/errors"
)

// MaxPATPrograms is the number of programs a PAT can hold
const MaxPATPrograms = 64

// PATData represents a PAT data
// https://en.wikipedia.org/wiki/Program-specific_information
type PATData struct {
	CRC32             uint32 // Read but not verified
	Header            PSISectionHeader
	TransportStreamID uint16

	programs      [MaxPATPrograms]PATProgram
	programsCount int
}

// PATProgram represents a PAT program
type PATProgram struct {
	NetworkPID    uint16 // Only set when ProgramNumber is 0
	ProgramMapID  uint16 // The packet identifier that contains the associated PMT. Only set when ProgramNumber is not 0
	ProgramNumber uint16 // Relates to the Table ID extension in the associated PMT. A value of 0 is reserved for a NIT packet identifier.
}

// IsNetwork checks whether the program points to the network PID
func (p PATProgram) IsNetwork() bool { return p.ProgramNumber == 0 }

// Programs returns the decoded programs. The slice points to d.
func (d *PATData) Programs() []PATProgram {
	return d.programs[:d.programsCount]
}

// ParsePAT parses a PAT out of a PSI payload starting with the pointer field
func ParsePAT(b []byte) (d *PATData, err error) {
	d = &PATData{}
	if err = d.Decode(b); err != nil {
		d = nil
	}
	return
}

// Decode decodes a PAT out of a PSI payload starting with the pointer field
func (d *PATData) Decode(b []byte) (err error) {
	// Reset
	*d = PATData{}

	// Check length
	if len(b) < minPSISize {
		err = errors.Wrapf(ErrBufferExhausted, "astibits: PAT is %d bytes long, at least %d bytes expected", len(b), minPSISize)
		return
	}

	// Create cursor
	var c BitCursor
	c.Reset(b)

	// Parse header
	if _, err = d.Header.decode(&c); err != nil {
		err = errors.Wrap(err, "astibits: parsing PAT header failed")
		return
	}
	d.TransportStreamID = d.Header.TableIDExtension

	// Number of programs is implied by the section length
	if d.Header.SectionLength < 8 {
		err = errors.Wrapf(ErrMalformedLength, "astibits: PAT section length %d implies a negative number of programs", d.Header.SectionLength)
		return
	}
	count := int(d.Header.SectionLength)/4 - 2

	// Loop through programs
	for idx := 0; idx < count; idx++ {
		// Check capacity
		if idx >= MaxPATPrograms {
			err = errors.Wrapf(ErrCapacityExceeded, "astibits: PAT declares %d programs, only %d are supported", count, MaxPATPrograms)
			return
		}

		// Check cursor
		if err = c.Err(); err != nil {
			err = errors.Wrapf(err, "astibits: parsing PAT program #%d failed", idx)
			return
		}

		// Parse program
		p := &d.programs[idx]
		p.ProgramNumber = readUint[uint16](&c, 16)
		c.SkipBits(3)
		if p.IsNetwork() {
			p.NetworkPID = readUint[uint16](&c, 13)
		} else {
			p.ProgramMapID = readUint[uint16](&c, 13)
		}
		d.programsCount++
	}

	// CRC32
	d.CRC32 = readUint[uint32](&c, 32)
	if err = c.Err(); err != nil {
		err = errors.Wrap(err, "astibits: parsing PAT failed")
		return
	}
	return
}
