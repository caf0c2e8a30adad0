package astibits

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetBytes builds a 188 bytes packet, bytes following the ones written by fn are set to 0xff
func packetBytes(fn func(w *astikit.BitsWriter)) []byte {
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	fn(w)
	return append(buf.Bytes(), bytes.Repeat([]byte{0xff}, MpegTsPacketSize-buf.Len())...)
}

var packetHeader = PacketHeader{
	ContinuityCounter:          10,
	HasAdaptationField:         true,
	HasPayload:                 true,
	PayloadUnitStartIndicator:  true,
	PID:                        5461,
	SyncByte:                   syncByte,
	TransportErrorIndicator:    true,
	TransportPriority:          true,
	TransportScramblingControl: ScramblingControlScrambledWithEvenKey,
}

func writePacketHeader(w *astikit.BitsWriter, h PacketHeader) {
	w.Write(uint8(syncByte))                                   // Sync byte
	w.Write(h.TransportErrorIndicator)                         // Transport error indicator
	w.Write(h.PayloadUnitStartIndicator)                       // Payload unit start indicator
	w.Write(h.TransportPriority)                               // Transport priority
	w.Write(fmt.Sprintf("%.13b", h.PID))                       // PID
	w.Write(fmt.Sprintf("%.2b", h.TransportScramblingControl)) // Scrambling control
	w.Write(h.HasAdaptationField)                              // Adaptation field flag
	w.Write(h.HasPayload)                                      // Payload flag
	w.Write(fmt.Sprintf("%.4b", h.ContinuityCounter))          // Continuity counter
}

func TestPacketHeader(t *testing.T) {
	b := packetBytes(func(w *astikit.BitsWriter) { writePacketHeader(w, packetHeader) })
	var h PacketHeader
	c := NewBitCursor(b)
	h.Decode(c)
	assert.NoError(t, c.Err())
	assert.Equal(t, packetHeader, h)
	assert.Equal(t, mpegTsPacketHeaderSize, c.Offset())
}

func TestPacketSyncByte(t *testing.T) {
	b := make([]byte, MpegTsPacketSize)
	b[0] = 0x48
	_, err := ParsePacket(b)
	assert.ErrorIs(t, err, ErrPacketMustStartWithASyncByte)
	assert.Equal(t, ErrorKindBadSync, KindOf(err))
}

func TestPacketTooShort(t *testing.T) {
	b := packetBytes(func(w *astikit.BitsWriter) { writePacketHeader(w, packetHeader) })
	_, err := ParsePacket(b[:MpegTsPacketSize-1])
	assert.ErrorIs(t, err, ErrBufferExhausted)
}

func TestPacketMinimal(t *testing.T) {
	h := packetHeader
	h.HasAdaptationField = false
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, h)
		w.Write([]byte("payload"))
	})

	// Extra bytes are ignored
	b = append(b, "test"...)

	p, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, h, p.Header)
	assert.Equal(t, mpegTsPacketHeaderSize, p.PayloadOffset)
	assert.Len(t, p.Payload, 184)
	assert.Equal(t, []byte("payload"), p.Payload[:7])

	// Payload points to the buffer
	b[4] = 'P'
	assert.Equal(t, byte('P'), p.Payload[0])
}

func TestPacketNoPayload(t *testing.T) {
	h := packetHeader
	h.HasAdaptationField = false
	h.HasPayload = false
	p, err := ParsePacket(packetBytes(func(w *astikit.BitsWriter) { writePacketHeader(w, h) }))
	require.NoError(t, err)
	assert.Nil(t, p.Payload)
}

func TestPacketAdaptationFieldPCROnly(t *testing.T) {
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(7))    // Length
		w.Write("00010000")  // Flags
		w.Write(pcrBytes())  // PCR
		w.Write([]byte("p")) // Payload
	})

	p, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, PacketAdaptationField{
		HasPCR: true,
		Length: 7,
		PCR:    pcr,
	}, p.AdaptationField)
	assert.Equal(t, 12, p.PayloadOffset)
	assert.Len(t, p.Payload, 176)
	assert.Equal(t, byte('p'), p.Payload[0])
}

var packetAdaptationField = PacketAdaptationField{
	AdaptationExtensionField: PacketAdaptationExtensionField{
		DTSNextAccessUnit:      dtsClockReference,
		HasLegalTimeWindow:     true,
		HasPiecewiseRate:       true,
		HasSeamlessSplice:      true,
		LegalTimeWindowIsValid: true,
		LegalTimeWindowOffset:  10922,
		Length:                 11,
		PiecewiseRate:          2796202,
		SpliceType:             2,
	},
	DiscontinuityIndicator:            true,
	ElementaryStreamPriorityIndicator: true,
	HasAdaptationExtensionField:       true,
	HasOPCR:                           true,
	HasPCR:                            true,
	HasTransportPrivateData:           true,
	HasSplicingCountdown:              true,
	Length:                            36,
	OPCR:                              pcr,
	PCR:                               pcr,
	RandomAccessIndicator:             true,
	SpliceCountdown:                   -3,
	TransportPrivateDataLength:        4,
	TransportPrivateData:              []byte("test"),
	StuffingLength:                    5,
}

func writePacketAdaptationField(w *astikit.BitsWriter) {
	w.Write(uint8(36))                // Length
	w.Write("1")                      // Discontinuity indicator
	w.Write("1")                      // Random access indicator
	w.Write("1")                      // Elementary stream priority indicator
	w.Write("1")                      // PCR flag
	w.Write("1")                      // OPCR flag
	w.Write("1")                      // Splicing point flag
	w.Write("1")                      // Transport data flag
	w.Write("1")                      // Adaptation field extension flag
	w.Write(pcrBytes())               // PCR
	w.Write(pcrBytes())               // OPCR
	w.Write(uint8(0xfd))              // Splice countdown
	w.Write(uint8(4))                 // Transport private data length
	w.Write([]byte("test"))           // Transport private data
	w.Write(uint8(11))                // Adaptation extension length
	w.Write("1")                      // LTW flag
	w.Write("1")                      // Piecewise rate flag
	w.Write("1")                      // Seamless splice flag
	w.Write("11111")                  // Reserved
	w.Write("1")                      // LTW valid flag
	w.Write("010101010101010")        // LTW offset
	w.Write("11")                     // Piecewise rate reserved
	w.Write("1010101010101010101010") // Piecewise rate
	w.Write(dtsBytes("0010"))         // Splice type + DTS next access unit
	w.WriteN(^uint64(0), 40)          // Stuffing bytes
}

func TestPacketAdaptationFieldFull(t *testing.T) {
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		writePacketAdaptationField(w)
		w.Write([]byte("payload"))
	})

	p, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, packetAdaptationField, p.AdaptationField)
	assert.Equal(t, 41, p.PayloadOffset)
	assert.Equal(t, []byte("payload"), p.Payload[:7])
	assert.Len(t, p.Payload, 147)
}

func TestPacketAdaptationFieldEmpty(t *testing.T) {
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(0))    // Length
		w.Write([]byte("p")) // Payload
	})

	p, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, PacketAdaptationField{}, p.AdaptationField)
	assert.Equal(t, 5, p.PayloadOffset)
	assert.Equal(t, byte('p'), p.Payload[0])
}

func TestPacketAdaptationFieldLengthMismatch(t *testing.T) {
	// PCR doesn't fit in the declared length
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(3))   // Length
		w.Write("00010000") // Flags
		w.Write(pcrBytes()) // PCR
	})
	_, err := ParsePacket(b)
	assert.ErrorIs(t, err, ErrMalformedLength)
	assert.Equal(t, ErrorKindMalformedLength, KindOf(err))

	// Extension doesn't fit in its declared length
	b = packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(10))  // Length
		w.Write("00000001") // Flags
		w.Write(uint8(2))   // Extension length
		w.Write("10000000") // Extension flags
		w.Write("1")        // LTW valid flag
		w.Write("000000000000001")
	})
	_, err = ParsePacket(b)
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestPacketAdaptationFieldOverflow(t *testing.T) {
	// Adaptation field fills the packet
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(183)) // Length
		w.Write("00000000") // Flags
	})
	p, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, MpegTsPacketSize, p.PayloadOffset)
	assert.Nil(t, p.Payload)
	assert.Equal(t, uint8(182), p.AdaptationField.StuffingLength)

	// Adaptation field declares more bytes than the packet holds
	b = packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(200)) // Length
		w.Write("00000000") // Flags
	})
	p, err = ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, MpegTsPacketSize, p.PayloadOffset)
	assert.Nil(t, p.Payload)
}

func TestPacketAdaptationFieldPrivateDataOverflow(t *testing.T) {
	b := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		w.Write(uint8(183)) // Length
		w.Write("00000010") // Flags
		w.Write(uint8(190)) // Transport private data length
	})
	_, err := ParsePacket(b)
	assert.ErrorIs(t, err, ErrBufferExhausted)
}

func TestPacketDecodeResets(t *testing.T) {
	var p Packet
	require.NoError(t, p.Decode(packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		writePacketAdaptationField(w)
	})))
	assert.True(t, p.AdaptationField.HasPCR)

	h := packetHeader
	h.HasAdaptationField = false
	require.NoError(t, p.Decode(packetBytes(func(w *astikit.BitsWriter) { writePacketHeader(w, h) })))
	assert.Equal(t, PacketAdaptationField{}, p.AdaptationField)
}

func BenchmarkPacketDecode(b *testing.B) {
	bs := packetBytes(func(w *astikit.BitsWriter) {
		writePacketHeader(w, packetHeader)
		writePacketAdaptationField(w)
	})
	var p Packet

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.Decode(bs)
	}
}
