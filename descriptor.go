package astibits

import (
	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

// Descriptor capacities
const (
	MaxDescriptorDataSize = 64 // Bytes copied per descriptor
	MaxDescriptors        = 16 // Descriptors per loop
)

// Descriptor tags
// Chapter: 2.6 | Link: ISO/IEC 13818-1
// Page: 42 | Chapter: 6.1 | Link: https://www.dvb.org/resources/public/standards/a38_dvb-si_specification.pdf
const (
	DescriptorTagVideoStream         = 0x2
	DescriptorTagAudioStream         = 0x3
	DescriptorTagRegistration        = 0x5
	DescriptorTagDataStreamAlignment = 0x6
	DescriptorTagCA                  = 0x9
	DescriptorTagISO639Language      = 0xa
	DescriptorTagMaximumBitrate      = 0xe
	DescriptorTagAVCVideo            = 0x28
	DescriptorTagStreamIdentifier    = 0x52
	DescriptorTagTeletext            = 0x56
	DescriptorTagSubtitling          = 0x59
	DescriptorTagAC3                 = 0x6a
	DescriptorTagEnhancedAC3         = 0x7a
)

// Audio types
const (
	AudioTypeUndefined                = 0x0
	AudioTypeCleanEffects             = 0x1
	AudioTypeHearingImpaired          = 0x2
	AudioTypeVisualImpairedCommentary = 0x3
)

// Descriptor represents a descriptor whose data has been copied out of the section
// It can outlive the buffer it has been decoded from
type Descriptor struct {
	Length uint8
	Tag    uint8 // the tag defines the structure of the contained data following the descriptor length.

	data [MaxDescriptorDataSize]byte
}

// Data returns the descriptor data
func (d *Descriptor) Data() []byte { return d.data[:d.Length] }

// DescriptorTable represents a bounded list of descriptors
type DescriptorTable struct {
	count       int
	descriptors [MaxDescriptors]Descriptor
}

// Len returns the number of descriptors
func (t *DescriptorTable) Len() int { return t.count }

// Descriptors returns the descriptors. The slice points to t.
func (t *DescriptorTable) Descriptors() []Descriptor { return t.descriptors[:t.count] }

// Find returns the first descriptor with the provided tag
func (t *DescriptorTable) Find(tag uint8) (*Descriptor, bool) {
	for idx := 0; idx < t.count; idx++ {
		if t.descriptors[idx].Tag == tag {
			return &t.descriptors[idx], true
		}
	}
	return nil, false
}

// decode parses descriptors until exactly length bytes have been consumed
func (t *DescriptorTable) decode(c *BitCursor, length int) (err error) {
	for remaining := length; remaining > 0; {
		// Check cursor
		if err = c.Err(); err != nil {
			return
		}

		// Check capacity
		if t.count >= len(t.descriptors) {
			err = errors.Wrapf(ErrCapacityExceeded, "astibits: more than %d descriptors", len(t.descriptors))
			return
		}

		// Header
		if remaining < 2 {
			err = errors.Wrapf(ErrMalformedLength, "astibits: %d bytes left can't hold a descriptor header", remaining)
			return
		}
		d := &t.descriptors[t.count]
		d.Tag = readUint[uint8](c, 8)
		d.Length = readUint[uint8](c, 8)
		remaining -= 2

		// Data
		if int(d.Length) > remaining {
			err = errors.Wrapf(ErrMalformedLength, "astibits: descriptor 0x%x is %d bytes long but only %d bytes are left", d.Tag, d.Length, remaining)
			return
		}
		if int(d.Length) > MaxDescriptorDataSize {
			err = errors.Wrapf(ErrCapacityExceeded, "astibits: descriptor 0x%x is %d bytes long, only %d bytes are supported", d.Tag, d.Length, MaxDescriptorDataSize)
			return
		}
		c.ReadBytes(d.data[:d.Length])
		remaining -= int(d.Length)
		t.count++
	}
	return c.Err()
}

// DescriptorISO639Language represents an ISO639 language descriptor entry
// Chapter: 2.6.18 | Link: ISO/IEC 13818-1
type DescriptorISO639Language struct {
	Language  []byte
	AudioType uint8
}

func (d *Descriptor) checkTag(tag uint8) error {
	if d.Tag != tag {
		return errors.Errorf("astibits: descriptor tag is 0x%x, 0x%x expected", d.Tag, tag)
	}
	return nil
}

// ISO639Languages parses an ISO639 language descriptor
func (d *Descriptor) ISO639Languages() (ls []DescriptorISO639Language, err error) {
	if err = d.checkTag(DescriptorTagISO639Language); err != nil {
		return
	}

	// Loop through entries
	i := astikit.NewBytesIterator(d.Data())
	for i.HasBytesLeft() {
		// Language
		var l DescriptorISO639Language
		if l.Language, err = i.NextBytes(3); err != nil {
			err = errors.Wrap(err, "astibits: fetching next bytes failed")
			return
		}

		// Audio type
		if l.AudioType, err = i.NextByte(); err != nil {
			err = errors.Wrap(err, "astibits: fetching next byte failed")
			return
		}
		ls = append(ls, l)
	}
	return
}

// Registration parses a registration descriptor and returns its format identifier
// Additional identification info is ignored
func (d *Descriptor) Registration() (formatIdentifier uint32, err error) {
	if err = d.checkTag(DescriptorTagRegistration); err != nil {
		return
	}
	var bs []byte
	if bs, err = astikit.NewBytesIterator(d.Data()).NextBytes(4); err != nil {
		err = errors.Wrap(err, "astibits: fetching next bytes failed")
		return
	}
	formatIdentifier = uint32(bs[0])<<24 | uint32(bs[1])<<16 | uint32(bs[2])<<8 | uint32(bs[3])
	return
}

// MaximumBitrate parses a maximum bitrate descriptor and returns the bitrate in bytes per second
func (d *Descriptor) MaximumBitrate() (bitrate uint32, err error) {
	if err = d.checkTag(DescriptorTagMaximumBitrate); err != nil {
		return
	}
	var bs []byte
	if bs, err = astikit.NewBytesIterator(d.Data()).NextBytes(3); err != nil {
		err = errors.Wrap(err, "astibits: fetching next bytes failed")
		return
	}
	// Expressed in units of 50 bytes per second
	bitrate = (uint32(bs[0]&0x3f)<<16 | uint32(bs[1])<<8 | uint32(bs[2])) * 50
	return
}

// StreamIdentifier parses a stream identifier descriptor and returns its component tag
func (d *Descriptor) StreamIdentifier() (componentTag uint8, err error) {
	if err = d.checkTag(DescriptorTagStreamIdentifier); err != nil {
		return
	}
	if componentTag, err = astikit.NewBytesIterator(d.Data()).NextByte(); err != nil {
		err = errors.Wrap(err, "astibits: fetching next byte failed")
		return
	}
	return
}
