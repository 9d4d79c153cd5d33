package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSetupPacketRoundTrip(t *testing.T) {
	s := SetupPacket{
		RequestType: 0x80,
		Request:     StdGetDescriptor,
		Value:       0x0100,
		Index:       0,
		Length:      18,
	}

	buf := make([]byte, SetupPacketSize)
	n := s.MarshalTo(buf)
	require.Equal(t, SetupPacketSize, n)

	got, ok := ParseSetupPacket(buf)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestParseSetupPacketShortBuffer(t *testing.T) {
	_, ok := ParseSetupPacket(make([]byte, 4))
	assert.False(t, ok)
}

func TestSetupPacketDirectionKindRecipient(t *testing.T) {
	s := SetupPacket{RequestType: 0xA1} // IN | class | interface
	assert.True(t, s.IsIn())
	assert.Equal(t, RequestKindClass, s.Kind())
	assert.Equal(t, RecipientInterface, s.RecipientOf())
}

func TestMarshalToRejectsShortBuffer(t *testing.T) {
	s := SetupPacket{}
	n := s.MarshalTo(make([]byte, 4))
	assert.Equal(t, 0, n)
}
