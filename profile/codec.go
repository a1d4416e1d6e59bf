package profile

import (
	"encoding/binary"
	"fmt"

	"github.com/Alia5/VIIPER/controller/buttons"
)

// RecordSize is the fixed on-disk size of a custom profile record, matching
// the settings journal's "56 bytes each" custom-profile slot (spec.md §3).
// Custom (persisted) profiles support remap/trigger/shape/SOCD/combo-switch
// but not the general ComboMap, which has unbounded size; combos remain a
// program-memory-only feature for built-in profiles.
const RecordSize = 56

const (
	codecDrop        = 0xFF
	codecPassthrough = 0xFE
)

// MarshalBinary encodes p into a fixed RecordSize-byte custom-profile record.
func (p *Profile) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)

	nameLen := len(p.Name)
	if nameLen > 8 {
		nameLen = 8
	}
	copy(buf[0:8], p.Name[:nameLen])

	for i, bit := range buttons.All {
		v := byte(codecPassthrough)
		if target, ok := p.ButtonMap[bit]; ok {
			switch target {
			case Drop:
				v = codecDrop
			case Passthrough:
				v = codecPassthrough
			default:
				idx, err := indexOfButton(target)
				if err != nil {
					return nil, err
				}
				v = byte(idx)
			}
		}
		buf[8+i] = v
	}

	off := 8 + len(buttons.All) // 8 + 18 = 26
	buf[off] = byte(p.TriggerL2.Mode)
	buf[off+1] = p.TriggerL2.Threshold
	buf[off+2] = p.TriggerL2.FixedValue
	buf[off+3] = byte(p.TriggerR2.Mode)
	buf[off+4] = p.TriggerR2.Threshold
	buf[off+5] = p.TriggerR2.FixedValue
	off += 6 // 32

	var flags byte
	if p.SwapSticks {
		flags |= 1 << 0
	}
	if p.InvertLY {
		flags |= 1 << 1
	}
	if p.InvertRY {
		flags |= 1 << 2
	}
	flags |= byte(p.SOCD&0x03) << 3
	buf[off] = flags
	off++ // 33

	buf[off] = p.Sensitivity[buttons.LX]
	buf[off+1] = p.Sensitivity[buttons.LY]
	buf[off+2] = p.Sensitivity[buttons.RX]
	buf[off+3] = p.Sensitivity[buttons.RY]
	off += 4 // 37

	binary.LittleEndian.PutUint32(buf[off:], uint32(p.ComboToSwitch))
	off += 4 // 41
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.ComboToSwitchHoldMS))
	off += 2 // 43

	// remaining RecordSize-off bytes stay zero (reserved for future use)
	return buf, nil
}

// UnmarshalBinary decodes a RecordSize-byte custom-profile record into p.
func (p *Profile) UnmarshalBinary(buf []byte) error {
	if len(buf) != RecordSize {
		return fmt.Errorf("profile: record must be %d bytes, got %d", RecordSize, len(buf))
	}

	end := 0
	for end < 8 && buf[end] != 0 {
		end++
	}
	p.Name = string(buf[0:end])

	p.ButtonMap = make(ButtonMap, len(buttons.All))
	for i, bit := range buttons.All {
		v := buf[8+i]
		switch v {
		case codecDrop:
			p.ButtonMap[bit] = Drop
		case codecPassthrough:
			// omission is equivalent to passthrough; leave unset
		default:
			if int(v) >= len(buttons.All) {
				return fmt.Errorf("profile: corrupt button map entry %d", v)
			}
			p.ButtonMap[bit] = buttons.All[v]
		}
	}
	p.ComboMap = ComboMap{}

	off := 8 + len(buttons.All)
	p.TriggerL2 = TriggerConfig{Mode: TriggerMode(buf[off]), Threshold: buf[off+1], FixedValue: buf[off+2]}
	p.TriggerR2 = TriggerConfig{Mode: TriggerMode(buf[off+3]), Threshold: buf[off+4], FixedValue: buf[off+5]}
	off += 6

	flags := buf[off]
	p.SwapSticks = flags&(1<<0) != 0
	p.InvertLY = flags&(1<<1) != 0
	p.InvertRY = flags&(1<<2) != 0
	p.SOCD = SOCDMode((flags >> 3) & 0x03)
	off++

	p.Sensitivity[buttons.LX] = buf[off]
	p.Sensitivity[buttons.LY] = buf[off+1]
	p.Sensitivity[buttons.RX] = buf[off+2]
	p.Sensitivity[buttons.RY] = buf[off+3]
	off += 4

	p.ComboToSwitch = buttons.Mask(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	p.ComboToSwitchHoldMS = int(binary.LittleEndian.Uint16(buf[off:]))

	return nil
}

func indexOfButton(bit buttons.Mask) (int, error) {
	for i, b := range buttons.All {
		if b == bit {
			return i, nil
		}
	}
	return 0, fmt.Errorf("profile: %v is not a canonical button", bit)
}
