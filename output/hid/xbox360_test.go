package hid

import (
	"testing"

	"github.com/Alia5/VIIPER/controller/buttons"
	"github.com/Alia5/VIIPER/profile"
	"github.com/stretchr/testify/assert"
)

func TestToXbox360_MapsFaceButtonsAndDPad(t *testing.T) {
	r := profile.Result{
		Buttons: buttons.B1 | buttons.DU | buttons.S2,
		Analog:  [buttons.NumAxes]uint8{128, 128, 128, 128, 0, 0, 128},
	}
	st := toXbox360(r)
	assert.NotZero(t, st.Buttons&0x1000, "B1 must map to ButtonA")
	assert.NotZero(t, st.Buttons&0x0001, "DU must map to ButtonDPadUp")
	assert.NotZero(t, st.Buttons&0x0010, "S2 must map to ButtonStart")
}

func TestToXbox360_CentersSticksAtZero(t *testing.T) {
	r := profile.Result{Analog: [buttons.NumAxes]uint8{128, 128, 128, 128, 0, 0, 128}}
	st := toXbox360(r)
	assert.Equal(t, int16(0), st.LX)
	assert.Equal(t, int16(0), st.LY)
}

func TestToXbox360_TriggersPassThroughUnscaled(t *testing.T) {
	r := profile.Result{Analog: [buttons.NumAxes]uint8{128, 128, 128, 128, 200, 50, 128}}
	st := toXbox360(r)
	assert.Equal(t, uint8(200), st.LT)
	assert.Equal(t, uint8(50), st.RT)
}
