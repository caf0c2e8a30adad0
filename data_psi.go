package astibits

import (
	"github.com/pkg/errors"
)

// PSI table types
const (
	PSITableTypeCAT     = "CAT"
	PSITableTypeNIT     = "NIT"
	PSITableTypeNull    = "Null"
	PSITableTypePAT     = "PAT"
	PSITableTypePMT     = "PMT"
	PSITableTypeSDT     = "SDT"
	PSITableTypeTSDT    = "TSDT"
	PSITableTypeUnknown = "Unknown"
)

// PSITableTypeId represents a PSI table id
type PSITableTypeId uint8

// PSI table ids
const (
	PSITableTypeIdPAT  PSITableTypeId = 0x00
	PSITableTypeIdCAT  PSITableTypeId = 0x01
	PSITableTypeIdPMT  PSITableTypeId = 0x02
	PSITableTypeIdTSDT PSITableTypeId = 0x03
	PSITableTypeIdNull PSITableTypeId = 0xff

	PSITableTypeIdNITVariant1 PSITableTypeId = 0x40
	PSITableTypeIdNITVariant2 PSITableTypeId = 0x41
	PSITableTypeIdSDTVariant1 PSITableTypeId = 0x42
	PSITableTypeIdSDTVariant2 PSITableTypeId = 0x46
)

// minPSISize is the smallest buffer holding a pointer field and a section header
const minPSISize = 8

// PSISectionHeader represents the header shared by PAT and PMT sections, including the pointer field
// https://en.wikipedia.org/wiki/Program-specific_information
type PSISectionHeader struct {
	CurrentNextIndicator   bool           // Indicates if data is current in effect or is for future use. If the bit is flagged on, then the data is to be used at the present moment.
	LastSectionNumber      uint8          // This indicates which table is the last table in the sequence of tables.
	PointerField           uint8          // Number of filler bytes between the pointer field and the table id.
	PrivateBit             bool           // The PAT, PMT, and CAT all set this to 0. Other tables set this to 1.
	SectionLength          uint16         // The number of bytes that follow for the syntax section (with CRC value) and/or table data. These bytes must not exceed a value of 1021.
	SectionNumber          uint8          // This is an index indicating which table this is in a related sequence of tables. The first table starts from 0.
	SectionSyntaxIndicator bool           // A flag that indicates if the syntax section follows the section length. The PAT, PMT, and CAT all set this to 1.
	TableID                PSITableTypeId // Table Identifier, that defines the structure of the syntax section and other contained data.
	TableIDExtension       uint16         // Informational only identifier. The PAT uses this for the transport stream identifier and the PMT uses this for the Program number.
	VersionNumber          uint8          // Syntax version number. Incremented when data is changed and wrapped around on overflow for values greater than 32.
}

// decode parses the pointer field, skips the filler bytes and parses the section header
// It returns the offset of the first byte counted by the section length
func (h *PSISectionHeader) decode(c *BitCursor) (offsetSectionStart int, err error) {
	// Pointer field
	h.PointerField = readUint[uint8](c, 8)
	c.SkipBytes(int(h.PointerField))

	// Table header
	h.TableID = PSITableTypeId(readUint[uint8](c, 8))
	h.SectionSyntaxIndicator = c.ReadBit()
	h.PrivateBit = c.ReadBit()
	c.SkipBits(2)
	h.SectionLength = readUint[uint16](c, 12)
	offsetSectionStart = c.Offset()

	// Syntax header
	h.TableIDExtension = readUint[uint16](c, 16)
	c.SkipBits(2)
	h.VersionNumber = readUint[uint8](c, 5)
	h.CurrentNextIndicator = c.ReadBit()
	h.SectionNumber = readUint[uint8](c, 8)
	h.LastSectionNumber = readUint[uint8](c, 8)

	if err = c.Err(); err != nil {
		err = errors.Wrap(err, "astibits: parsing PSI section header failed")
		return
	}
	return
}

// String returns the table type
func (t PSITableTypeId) String() string {
	switch t {
	case PSITableTypeIdPAT:
		return PSITableTypePAT
	case PSITableTypeIdCAT:
		return PSITableTypeCAT
	case PSITableTypeIdPMT:
		return PSITableTypePMT
	case PSITableTypeIdTSDT:
		return PSITableTypeTSDT
	case PSITableTypeIdNITVariant1, PSITableTypeIdNITVariant2:
		return PSITableTypeNIT
	case PSITableTypeIdSDTVariant1, PSITableTypeIdSDTVariant2:
		return PSITableTypeSDT
	case PSITableTypeIdNull:
		return PSITableTypeNull
	default:
		return PSITableTypeUnknown
	}
}
