package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramseymcgrath/Hurricane/wire"
)

func buildSampleConfig() []byte {
	header := ConfigHeader{
		Length:             ConfigurationLength,
		DescriptorType:     wire.DescTypeConfiguration,
		NumInterfaces:      1,
		ConfigurationValue: 1,
		MaxPower:           50,
	}
	iface := InterfaceDescriptor{
		Length:          InterfaceLength,
		DescriptorType:  wire.DescTypeInterface,
		InterfaceNumber: 0,
		NumEndpoints:    1,
		InterfaceClass:  0x03,
	}
	hid := HIDDescriptor{}
	hid.SetDefaults(34)
	ep := EndpointDescriptor{
		Length:          EndpointLength,
		DescriptorType:  wire.DescTypeEndpoint,
		EndpointAddress: 0x81,
		Attributes:      0x03,
		MaxPacketSize:   8,
		Interval:        10,
	}

	var body []byte
	body = append(body, iface.Bytes()...)
	body = append(body, hid.Bytes()...)
	body = append(body, ep.Bytes()...)

	header.TotalLength = uint16(ConfigurationLength + len(body))

	out := append([]byte(nil), header.Bytes()...)
	out = append(out, body...)
	return out
}

func TestWalkConfiguration(t *testing.T) {
	buf := buildSampleConfig()

	descs, err := WalkConfiguration(buf)
	require.NoError(t, err)
	require.Len(t, descs, 4)

	assert.Equal(t, KindConfiguration, descs[0].Kind)
	assert.Equal(t, uint8(1), descs[0].Config.NumInterfaces)

	assert.Equal(t, KindInterface, descs[1].Kind)
	assert.Equal(t, uint8(0x03), descs[1].Interface.InterfaceClass)

	assert.Equal(t, KindHID, descs[2].Kind)
	assert.Equal(t, uint16(34), descs[2].HID.ReportDescriptorLength)
}

func TestWalkerIsRestartable(t *testing.T) {
	buf := buildSampleConfig()

	w := NewWalker(buf)
	first, ok, err := w.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindConfiguration, first.Kind)

	w2 := NewWalker(buf)
	firstAgain, ok, err := w2.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, firstAgain)
}

func TestWalkRejectsZeroLength(t *testing.T) {
	buf := []byte{0x00, 0x02}
	_, err := WalkConfiguration(buf)
	assert.Error(t, err)
}

func TestWalkRejectsOverrun(t *testing.T) {
	buf := []byte{0x09, 0x02, 0x01}
	_, err := WalkConfiguration(buf)
	assert.Error(t, err)
}

func TestWalkSurfacesUnknownDescriptor(t *testing.T) {
	buf := []byte{0x04, 0xFE, 0xAA, 0xBB}
	descs, err := WalkConfiguration(buf)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, KindUnknown, descs[0].Kind)
	assert.Equal(t, uint8(0xFE), descs[0].Unknown.Type)
}
