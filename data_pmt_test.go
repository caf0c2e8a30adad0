package astibits

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorBytes(tag uint8, data []byte) []byte {
	return append([]byte{tag, uint8(len(data))}, data...)
}

func writePMTStream(w *astikit.BitsWriter, streamType uint8, pid uint16, descriptors []byte) {
	w.Write(streamType)
	w.Write("111")
	w.Write(fmt.Sprintf("%.13b", pid))
	w.Write("1111")
	w.Write(fmt.Sprintf("%.12b", len(descriptors)))
	if len(descriptors) > 0 {
		w.Write(descriptors)
	}
}

// pmtBytes builds a PMT, fn writes the elementary streams
func pmtBytes(programDescriptors []byte, streamsLength int, fn func(w *astikit.BitsWriter)) []byte {
	return psiBytes(0, PSITableTypeIdPMT, pmtMinSectionLength+len(programDescriptors)+streamsLength, 1, func(w *astikit.BitsWriter) {
		w.Write("111")                                         // Reserved bits
		w.Write("0000100000000")                               // PCR PID
		w.Write("1111")                                        // Reserved
		w.Write(fmt.Sprintf("%.12b", len(programDescriptors))) // Program info length
		if len(programDescriptors) > 0 {
			w.Write(programDescriptors)
		}
		if fn != nil {
			fn(w)
		}
		w.Write(uint32(0xdeadbeef)) // CRC32
	})
}

func TestParsePMT(t *testing.T) {
	registration := descriptorBytes(DescriptorTagRegistration, []byte("CUEI"))
	language := descriptorBytes(DescriptorTagISO639Language, []byte("eng\x00"))
	b := pmtBytes(registration, 5+5+len(language), func(w *astikit.BitsWriter) {
		writePMTStream(w, StreamTypeH264Video, 0x101, nil)
		writePMTStream(w, StreamTypeADTS, 0x102, language)
	})

	d, err := ParsePMT(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), d.ProgramNumber)
	assert.Equal(t, uint16(0x100), d.PCRPID)
	assert.Equal(t, uint16(6), d.ProgramInfoLength)
	assert.Equal(t, uint32(0xdeadbeef), d.CRC32)

	// Program descriptors
	require.Equal(t, 1, d.ProgramDescriptors.Len())
	dsc := d.ProgramDescriptors.Descriptors()[0]
	assert.Equal(t, uint8(DescriptorTagRegistration), dsc.Tag)
	assert.Equal(t, []byte("CUEI"), dsc.Data())

	// Elementary streams
	ess := d.ElementaryStreams()
	require.Len(t, ess, 2)
	assert.Equal(t, uint8(StreamTypeH264Video), ess[0].StreamType)
	assert.Equal(t, uint16(0x101), ess[0].ElementaryPID)
	assert.Equal(t, 0, ess[0].ElementaryStreamDescriptors.Len())
	assert.Equal(t, uint8(StreamTypeADTS), ess[1].StreamType)
	assert.Equal(t, uint16(0x102), ess[1].ElementaryPID)
	assert.Equal(t, uint16(6), ess[1].ESInfoLength)
	_, ok := ess[1].ElementaryStreamDescriptors.Find(DescriptorTagISO639Language)
	assert.True(t, ok)

	// Lookup
	es, ok := d.ElementaryStreamByPID(0x102)
	require.True(t, ok)
	assert.Equal(t, uint8(StreamTypeADTS), es.StreamType)
	_, ok = d.ElementaryStreamByPID(0x103)
	assert.False(t, ok)

	// Descriptors are copied
	for idx := range b {
		b[idx] = 0
	}
	assert.Equal(t, []byte("CUEI"), d.ProgramDescriptors.Descriptors()[0].Data())
}

func TestPMTNegativeRemainingLength(t *testing.T) {
	// Descriptor is longer than the program info
	dsc := descriptorBytes(DescriptorTagRegistration, []byte("CUEI"))
	b := psiBytes(0, PSITableTypeIdPMT, pmtMinSectionLength+len(dsc), 1, func(w *astikit.BitsWriter) {
		w.Write("111")           // Reserved bits
		w.Write("0000100000000") // PCR PID
		w.Write("1111")          // Reserved
		w.Write("000000000011")  // Program info length
		w.Write(dsc)
		w.Write(uint32(0xdeadbeef)) // CRC32
	})
	_, err := ParsePMT(b)
	assert.ErrorIs(t, err, ErrMalformedLength)

	// Program info can't hold a descriptor header
	_, err = ParsePMT(pmtBytes([]byte{DescriptorTagCA}, 0, nil))
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestPMTOverrunsCRC(t *testing.T) {
	language := descriptorBytes(DescriptorTagISO639Language, []byte("eng\x00"))
	b := pmtBytes(nil, 5, func(w *astikit.BitsWriter) {
		writePMTStream(w, StreamTypeADTS, 0x102, language)
	})
	_, err := ParsePMT(b)
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestPMTSectionPastBuffer(t *testing.T) {
	b := pmtBytes(nil, 5, func(w *astikit.BitsWriter) {
		writePMTStream(w, StreamTypeADTS, 0x102, nil)
	})
	_, err := ParsePMT(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrBufferExhausted)

	// Section length is too small
	_, err = ParsePMT(psiBytes(0, PSITableTypeIdPMT, pmtMinSectionLength-1, 1, func(w *astikit.BitsWriter) {
		w.Write(bytes.Repeat([]byte{0xff}, 8))
	}))
	assert.ErrorIs(t, err, ErrMalformedLength)
}

func TestPMTCapacity(t *testing.T) {
	// Too many elementary streams
	b := pmtBytes(nil, 5*(MaxElementaryStreams+1), func(w *astikit.BitsWriter) {
		for idx := 0; idx <= MaxElementaryStreams; idx++ {
			writePMTStream(w, StreamTypeH264Video, uint16(0x100+idx), nil)
		}
	})
	_, err := ParsePMT(b)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Too many descriptors
	var dscs []byte
	for idx := 0; idx <= MaxDescriptors; idx++ {
		dscs = append(dscs, descriptorBytes(DescriptorTagCA, nil)...)
	}
	_, err = ParsePMT(pmtBytes(dscs, 0, nil))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Descriptor data is too big
	dsc := descriptorBytes(DescriptorTagRegistration, bytes.Repeat([]byte{0x1}, MaxDescriptorDataSize+1))
	b = pmtBytes(nil, 5+len(dsc), func(w *astikit.BitsWriter) {
		writePMTStream(w, StreamTypeH264Video, 0x101, dsc)
	})
	_, err = ParsePMT(b)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func BenchmarkPMTDecode(b *testing.B) {
	language := descriptorBytes(DescriptorTagISO639Language, []byte("eng\x00"))
	bs := pmtBytes(nil, 5+5+len(language), func(w *astikit.BitsWriter) {
		writePMTStream(w, StreamTypeH264Video, 0x101, nil)
		writePMTStream(w, StreamTypeADTS, 0x102, language)
	})
	var d PMTData

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d.Decode(bs)
	}
}
