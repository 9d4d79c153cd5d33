package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEndpoint struct {
	address    uint8
	attributes uint8
	maxPacket  uint16
	interval   uint8
	configured bool
}

func (e fakeEndpoint) Address() uint8        { return e.address }
func (e fakeEndpoint) Attributes() uint8     { return e.attributes }
func (e fakeEndpoint) MaxPacketSize() uint16 { return e.maxPacket }
func (e fakeEndpoint) Interval() uint8       { return e.interval }
func (e fakeEndpoint) Configured() bool      { return e.configured }

type fakeInterface struct {
	number                    uint8
	class, subclass, protocol uint8
	endpoints                 []EndpointView
}

func (i fakeInterface) Number() uint8 { return i.number }
func (i fakeInterface) Class() (uint8, uint8, uint8) {
	return i.class, i.subclass, i.protocol
}
func (i fakeInterface) Endpoints() []EndpointView { return i.endpoints }

// TestAssembleConfigurationTwoInterfaces reproduces a boot-protocol HID
// bridge configuration: a keyboard interface (class 3) with one interrupt-IN
// endpoint and a mouse interface (class 3) with one interrupt-IN endpoint.
func TestAssembleConfigurationTwoInterfaces(t *testing.T) {
	keyboard := fakeInterface{
		number: 0,
		class:  0x03, subclass: 0x01, protocol: 0x01,
		endpoints: []EndpointView{
			fakeEndpoint{address: 0x81, attributes: 0x03, maxPacket: 8, interval: 10, configured: true},
		},
	}
	mouse := fakeInterface{
		number: 1,
		class:  0x03, subclass: 0x01, protocol: 0x02,
		endpoints: []EndpointView{
			fakeEndpoint{address: 0x82, attributes: 0x03, maxPacket: 4, interval: 10, configured: true},
		},
	}

	out, err := AssembleConfiguration([]InterfaceView{keyboard, mouse}, ConfigParams{
		ConfigurationValue: 1,
		MaxPower:           50,
	})
	require.NoError(t, err)

	// 9 (config) + 2 * (9 iface + 9 hid + 7 endpoint) = 9 + 2*25 = 59
	assert.Len(t, out, 59)

	header, err := ParseConfigurationHeader(out)
	require.NoError(t, err)
	assert.Equal(t, uint16(59), header.TotalLength)
	assert.Equal(t, uint8(2), header.NumInterfaces)

	descs, err := WalkConfiguration(out[ConfigurationLength:])
	require.NoError(t, err)
	require.Len(t, descs, 6)
	assert.Equal(t, KindInterface, descs[0].Kind)
	assert.Equal(t, KindHID, descs[1].Kind)
	assert.Equal(t, KindEndpoint, descs[2].Kind)
	assert.Equal(t, KindInterface, descs[3].Kind)
	assert.Equal(t, KindHID, descs[4].Kind)
	assert.Equal(t, KindEndpoint, descs[5].Kind)
}

func TestAssembleConfigurationSkipsUnconfiguredEndpoints(t *testing.T) {
	iface := fakeInterface{
		number: 0,
		class:  0xFF,
		endpoints: []EndpointView{
			fakeEndpoint{address: 0x81, configured: false},
		},
	}

	out, err := AssembleConfiguration([]InterfaceView{iface}, ConfigParams{ConfigurationValue: 1})
	require.NoError(t, err)

	// 9 (config) + 9 (iface, no hid since class != 3, no endpoints)
	assert.Len(t, out, 18)

	descs, err := WalkConfiguration(out[ConfigurationLength:])
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, uint8(0), descs[0].Interface.NumEndpoints)
}

func TestAssembleConfigurationEmpty(t *testing.T) {
	out, err := AssembleConfiguration(nil, ConfigParams{ConfigurationValue: 1})
	require.NoError(t, err)
	assert.Len(t, out, ConfigurationLength)

	header, err := ParseConfigurationHeader(out)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), header.NumInterfaces)
}
