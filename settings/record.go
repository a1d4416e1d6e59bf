// Package settings implements the dual-sector, always-safe flash journal
// (spec.md §4.7). The dual-sector variant was chosen over single-sector
// deferred-erase because this adapter's wireless JOCP stack (input/wireless)
// is always active, matching the spec's own guidance ("preferred for
// systems where wireless is always active").
package settings

import (
	"encoding/binary"
	"fmt"
)

const (
	magicValue uint32 = 0x47435052 // "GCPR"

	// SlotSize is one 256-byte journal slot: a fixed-size page write is
	// atomic at the flash level, which is what makes the power-loss
	// invariant hold.
	SlotSize = 256
	// SectorSize is one 4 KiB erase unit, holding 16 slots.
	SectorSize    = 4096
	SlotsPerSector = SectorSize / SlotSize

	// recordCustomProfileBytes matches profile.RecordSize (56 bytes/profile).
	recordCustomProfileBytes = 56
	maxCustomProfiles        = 4

	offMagic           = 0
	offSequence        = 4
	offActiveProfile   = 8
	offActiveUSBMode   = 9
	offAuxOrientation  = 10
	offCustomCount     = 11
	offCustomProfiles  = 12
	recordUsedBytes    = offCustomProfiles + maxCustomProfiles*recordCustomProfileBytes
)

// Record is the in-RAM settings blob, mirrored to a 256-byte journal slot.
type Record struct {
	Sequence        uint32
	ActiveProfile   uint8
	ActiveUSBMode   uint8
	AuxOrientation  uint8
	CustomProfiles  [][]byte // each exactly recordCustomProfileBytes (profile.Profile.MarshalBinary output, truncated/padded)
}

// marshal encodes r into a fresh 256-byte slot, stamping magic and the
// given sequence (the caller decides last_seq+1 per the write path).
func (r Record) marshal(sequence uint32) ([]byte, error) {
	if len(r.CustomProfiles) > maxCustomProfiles {
		return nil, fmt.Errorf("settings: %d custom profiles exceeds max %d", len(r.CustomProfiles), maxCustomProfiles)
	}
	b := make([]byte, SlotSize)
	binary.LittleEndian.PutUint32(b[offMagic:], magicValue)
	binary.LittleEndian.PutUint32(b[offSequence:], sequence)
	b[offActiveProfile] = r.ActiveProfile
	b[offActiveUSBMode] = r.ActiveUSBMode
	b[offAuxOrientation] = r.AuxOrientation
	b[offCustomCount] = uint8(len(r.CustomProfiles))
	for i, p := range r.CustomProfiles {
		off := offCustomProfiles + i*recordCustomProfileBytes
		n := copy(b[off:off+recordCustomProfileBytes], p)
		_ = n
	}
	// remaining bytes stay zero (reserved)
	return b, nil
}

// unmarshalRecord decodes a slot previously validated by isValidSlot.
func unmarshalRecord(b []byte) Record {
	count := int(b[offCustomCount])
	if count > maxCustomProfiles {
		count = maxCustomProfiles
	}
	r := Record{
		Sequence:       binary.LittleEndian.Uint32(b[offSequence:]),
		ActiveProfile:  b[offActiveProfile],
		ActiveUSBMode:  b[offActiveUSBMode],
		AuxOrientation: b[offAuxOrientation],
	}
	for i := 0; i < count; i++ {
		off := offCustomProfiles + i*recordCustomProfileBytes
		blob := make([]byte, recordCustomProfileBytes)
		copy(blob, b[off:off+recordCustomProfileBytes])
		r.CustomProfiles = append(r.CustomProfiles, blob)
	}
	return r
}

// isValidSlot reports whether b is a populated (non-erased) slot with the
// correct magic, per spec.md §6 "valid iff magic == GCPR and sequence !=
// 0xFFFFFFFF".
func isValidSlot(b []byte) bool {
	if len(b) < SlotSize {
		return false
	}
	seq := binary.LittleEndian.Uint32(b[offSequence:])
	if seq == 0xFFFFFFFF {
		return false // erased
	}
	return binary.LittleEndian.Uint32(b[offMagic:]) == magicValue
}

func slotSequence(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[offSequence:])
}

// isEmptySlot reports whether b is in the erased state (spec.md §4.7 "A
// slot is empty when its sequence field reads all-ones").
func isEmptySlot(b []byte) bool {
	return binary.LittleEndian.Uint32(b[offSequence:]) == 0xFFFFFFFF
}
