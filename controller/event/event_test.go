package event

import (
	"testing"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/stretchr/testify/assert"
)

func TestNeutralAnalog_CentersSticksReleasesTriggers(t *testing.T) {
	a := NeutralAnalog()
	assert.Equal(t, buttons.StickCenter, a[buttons.LX])
	assert.Equal(t, buttons.StickCenter, a[buttons.LY])
	assert.Equal(t, buttons.StickCenter, a[buttons.RX])
	assert.Equal(t, buttons.StickCenter, a[buttons.RY])
	assert.Equal(t, buttons.TriggerReleased, a[buttons.L2Axis])
	assert.Equal(t, buttons.TriggerReleased, a[buttons.R2Axis])
}

func TestSeqCounter_MonotonicFromOne(t *testing.T) {
	var c SeqCounter
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(3), c.Next())
}

func TestClone_IsValueCopy(t *testing.T) {
	e := Event{Addr: Addr{Device: 0x01}, Buttons: buttons.B1}
	c := e.Clone()
	c.Buttons |= buttons.B2
	assert.Equal(t, buttons.B1, e.Buttons)
	assert.Equal(t, buttons.B1|buttons.B2, c.Buttons)
}
