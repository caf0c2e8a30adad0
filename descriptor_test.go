package astibits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorTable(t *testing.T, b []byte) (dt *DescriptorTable) {
	dt = &DescriptorTable{}
	require.NoError(t, dt.decode(NewBitCursor(b), len(b)))
	return
}

func TestDescriptorTable(t *testing.T) {
	var b []byte
	b = append(b, descriptorBytes(DescriptorTagRegistration, []byte("CUEI"))...)
	b = append(b, descriptorBytes(DescriptorTagCA, nil)...)
	b = append(b, descriptorBytes(DescriptorTagStreamIdentifier, []byte{0x7})...)
	dt := descriptorTable(t, b)

	assert.Equal(t, 3, dt.Len())
	assert.Equal(t, uint8(DescriptorTagCA), dt.Descriptors()[1].Tag)
	assert.Empty(t, dt.Descriptors()[1].Data())
	d, ok := dt.Find(DescriptorTagStreamIdentifier)
	require.True(t, ok)
	assert.Equal(t, uint8(1), d.Length)
	_, ok = dt.Find(DescriptorTagTeletext)
	assert.False(t, ok)

	// Only the provided length is consumed
	dt = &DescriptorTable{}
	c := NewBitCursor(b)
	require.NoError(t, dt.decode(c, 6))
	assert.Equal(t, 1, dt.Len())
	assert.Equal(t, 6, c.Offset())

	// Nothing to consume
	dt = &DescriptorTable{}
	require.NoError(t, dt.decode(NewBitCursor(b), 0))
	assert.Equal(t, 0, dt.Len())
}

func TestDescriptorTableExhausted(t *testing.T) {
	b := descriptorBytes(DescriptorTagRegistration, []byte("CUEI"))
	dt := &DescriptorTable{}
	err := dt.decode(NewBitCursor(b[:4]), len(b))
	assert.ErrorIs(t, err, ErrBufferExhausted)
}

func TestDescriptorISO639Languages(t *testing.T) {
	dt := descriptorTable(t, descriptorBytes(DescriptorTagISO639Language, []byte("eng\x00fra\x03")))
	ls, err := dt.Descriptors()[0].ISO639Languages()
	require.NoError(t, err)
	assert.Equal(t, []DescriptorISO639Language{
		{Language: []byte("eng"), AudioType: AudioTypeUndefined},
		{Language: []byte("fra"), AudioType: AudioTypeVisualImpairedCommentary},
	}, ls)

	// Truncated entry
	dt = descriptorTable(t, descriptorBytes(DescriptorTagISO639Language, []byte("eng\x00fr")))
	_, err = dt.Descriptors()[0].ISO639Languages()
	assert.Error(t, err)
}

func TestDescriptorRegistration(t *testing.T) {
	dt := descriptorTable(t, descriptorBytes(DescriptorTagRegistration, []byte("CUEI")))
	f, err := dt.Descriptors()[0].Registration()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x43554549), f)
}

func TestDescriptorMaximumBitrate(t *testing.T) {
	dt := descriptorTable(t, descriptorBytes(DescriptorTagMaximumBitrate, []byte{0xc0, 0x01, 0x02}))
	b, err := dt.Descriptors()[0].MaximumBitrate()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x102*50), b)
}

func TestDescriptorStreamIdentifier(t *testing.T) {
	dt := descriptorTable(t, descriptorBytes(DescriptorTagStreamIdentifier, []byte{0x7}))
	c, err := dt.Descriptors()[0].StreamIdentifier()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), c)

	// Wrong tag
	_, err = dt.Descriptors()[0].Registration()
	assert.Error(t, err)
	assert.Equal(t, ErrorKindOther, KindOf(err))
}
