package neogeo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/controller/event"
)

func TestEncodeLineState_NeutralIsAllOnes(t *testing.T) {
	assert.Equal(t, byte(0xFF), encodeLineState(0, event.NeutralAnalog()))
}

func TestEncodeLineState_ButtonPressClearsItsBit(t *testing.T) {
	line := encodeLineState(buttons.B1, event.NeutralAnalog())
	assert.Equal(t, byte(0xFF&^0x10), line)
}

func TestEncodeLineState_DPadClearsDirectionBits(t *testing.T) {
	line := encodeLineState(buttons.DU|buttons.DR, event.NeutralAnalog())
	assert.Equal(t, byte(0xFF&^0x04&^0x02), line)
}

func TestEncodeLineState_AnalogStickFallsBackToDeadzoneThreshold(t *testing.T) {
	analog := event.NeutralAnalog()
	analog[buttons.LX] = buttons.StickCenter + 80
	line := encodeLineState(0, analog)
	assert.Equal(t, byte(0xFF&^0x02), line)
}

func TestEncodeLineState_AnalogWithinDeadzoneStaysNeutral(t *testing.T) {
	analog := event.NeutralAnalog()
	analog[buttons.LX] = buttons.StickCenter + 4
	line := encodeLineState(0, analog)
	assert.Equal(t, byte(0xFF), line)
}

func TestAtomic32_StoreLoadRoundTrips(t *testing.T) {
	var a atomic32
	a.Store(42)
	assert.Equal(t, uint32(42), a.Load())
}
