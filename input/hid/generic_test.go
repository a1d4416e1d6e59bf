package hid

import (
	"testing"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
	"github.com/Alia5/VIIPER/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericDriver_MatchesKnownVendor(t *testing.T) {
	d, ok, err := newGenericDriver(input.Descriptor{Transport: event.TransportUSB, VendorID: 0x057E, ProductID: 0x2009}, event.Addr{Device: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, d)
}

func TestGenericDriver_RejectsUnknownVendor(t *testing.T) {
	_, ok, err := newGenericDriver(input.Descriptor{Transport: event.TransportUSB, VendorID: 0xFFFF, ProductID: 0x1}, event.Addr{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenericDriver_DecodeButtonsAndDPad(t *testing.T) {
	d := &GenericDriver{addr: event.Addr{Device: 1}, cal: DefaultCalibration}
	raw := make([]byte, 13)
	raw[0] = 0x30
	raw[3] = 0x02 // A
	raw[4] = 0x08 // DU
	ev, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ev.Buttons.Has(buttons.B1))
	assert.True(t, ev.Buttons.Has(buttons.DU))
}

func TestGenericDriver_DecodeFiltersIdenticalBackToBackReports(t *testing.T) {
	d := &GenericDriver{addr: event.Addr{Device: 1}, cal: DefaultCalibration}
	raw := make([]byte, 13)
	raw[0] = 0x30
	raw[3] = 0x02 // A

	_, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = d.Decode(append([]byte(nil), raw...))
	require.NoError(t, err)
	assert.False(t, ok, "a byte-identical repeat report must be filtered")

	raw[4] = 0x08 // DU: now distinct from the last-seen bytes
	_, ok, err = d.Decode(raw)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenericDriver_DecodeIgnoresOtherReportIDs(t *testing.T) {
	d := &GenericDriver{addr: event.Addr{}, cal: DefaultCalibration}
	_, ok, err := d.Decode([]byte{0x21, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStickValues_UnpacksTwo12BitFields(t *testing.T) {
	data := make([]byte, 9)
	data[6], data[7], data[8] = 0xFF, 0x0F, 0x00
	x, y := stickValues(data, 6)
	assert.Equal(t, 0xFFF, x)
	assert.Equal(t, 0, y)
}

func TestNormalizeAxis_DeadzoneReturnsCenter(t *testing.T) {
	got := normalizeAxis(2070, 2063, 294, 3735, 50)
	assert.Equal(t, buttons.StickCenter, got)
}
