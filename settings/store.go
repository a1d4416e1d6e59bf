package settings

import (
	"fmt"
	"sync"
	"time"
)

// debounceInterval is how long the cooperative tick waits after the last
// change before flushing to flash (spec.md §4.7 "now - last_change >= 5s").
const debounceInterval = 5 * time.Second

// Store is the dual-sector settings journal. All sector/slot bookkeeping
// happens under mu; Save only marks the in-RAM record dirty, and Tick
// performs the actual (slow, ~1ms) flash write once the debounce window
// has elapsed.
type Store struct {
	mu    sync.Mutex
	flash Flash
	now   func() time.Time

	current     Record
	hasCurrent  bool
	lastSeq     uint32
	activeSector int // sector containing the newest valid slot, once known

	dirty      bool
	lastChange time.Time
}

// NewStore constructs a Store over flash and loads the newest valid record,
// if any, per the read path (spec.md §4.7).
func NewStore(flash Flash) (*Store, error) {
	s := &Store{flash: flash, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the currently loaded record and whether one was found.
func (s *Store) Load() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

// load scans every slot in both sectors; the valid slot with the highest
// sequence is current (spec.md §4.7 read path).
func (s *Store) load() error {
	var best []byte
	var bestSector int
	for sector := 0; sector < 2; sector++ {
		raw, err := s.flash.ReadSector(sector)
		if err != nil {
			return err
		}
		for slot := 0; slot < SlotsPerSector; slot++ {
			b := raw[slot*SlotSize : (slot+1)*SlotSize]
			if !isValidSlot(b) {
				continue
			}
			if best == nil || slotSequence(b) > slotSequence(best) {
				cp := make([]byte, SlotSize)
				copy(cp, b)
				best = cp
				bestSector = sector
			}
		}
	}
	if best == nil {
		s.hasCurrent = false
		s.lastSeq = 0
		s.activeSector = 0
		return nil
	}
	s.current = unmarshalRecord(best)
	s.hasCurrent = true
	s.lastSeq = s.current.Sequence
	s.activeSector = bestSector
	return nil
}

// Save updates the in-RAM record and marks the journal dirty; the actual
// flash write is deferred to Tick's debounce window.
func (s *Store) Save(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
	s.hasCurrent = true
	s.dirty = true
	s.lastChange = s.now()
}

// Tick is called once per cooperative scheduler cycle (spec.md §5); it
// flushes a dirty record to flash once the debounce window has elapsed.
func (s *Store) Tick() error {
	s.mu.Lock()
	if !s.dirty || s.now().Sub(s.lastChange) < debounceInterval {
		s.mu.Unlock()
		return nil
	}
	rec := s.current
	s.mu.Unlock()

	if err := s.flush(rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// flush executes the write path: find an empty slot in the active sector
// first, then the other; if neither has room, erase the sector that does
// not hold the newest sequence and write to its first slot.
func (s *Store) flush(rec Record) error {
	s.mu.Lock()
	seq := s.lastSeq + 1
	activeSector := s.activeSector
	s.mu.Unlock()

	data, err := rec.marshal(seq)
	if err != nil {
		return err
	}

	if slot, ok, err := s.findEmptySlot(activeSector); err != nil {
		return err
	} else if ok {
		if err := s.flash.WriteSlot(activeSector, slot, data); err != nil {
			return err
		}
		return s.commit(seq, activeSector)
	}

	otherSector := 1 - activeSector
	if slot, ok, err := s.findEmptySlot(otherSector); err != nil {
		return err
	} else if ok {
		if err := s.flash.WriteSlot(otherSector, slot, data); err != nil {
			return err
		}
		return s.commit(seq, otherSector)
	}

	// Neither sector has a free slot: erase the sector that does not
	// contain the current newest-sequence slot -- always safe since the
	// newest record survives in the other sector until this write lands.
	eraseSector := otherSector
	if err := s.flash.EraseSector(eraseSector); err != nil {
		return fmt.Errorf("settings: erase sector %d: %w", eraseSector, err)
	}
	if err := s.flash.WriteSlot(eraseSector, 0, data); err != nil {
		return err
	}
	return s.commit(seq, eraseSector)
}

func (s *Store) commit(seq uint32, sector int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readBackVerify(sector, seq); err != nil {
		return err
	}
	s.lastSeq = seq
	s.current.Sequence = seq
	s.activeSector = sector
	return nil
}

// readBackVerify re-reads the just-written slot and confirms its sequence
// matches what was written (spec.md §4.7 step 5).
func (s *Store) readBackVerify(sector int, seq uint32) error {
	raw, err := s.flash.ReadSector(sector)
	if err != nil {
		return err
	}
	for slot := 0; slot < SlotsPerSector; slot++ {
		b := raw[slot*SlotSize : (slot+1)*SlotSize]
		if isValidSlot(b) && slotSequence(b) == seq {
			return nil
		}
	}
	return fmt.Errorf("settings: read-back verify failed for sequence %d in sector %d", seq, sector)
}

func (s *Store) findEmptySlot(sector int) (int, bool, error) {
	raw, err := s.flash.ReadSector(sector)
	if err != nil {
		return 0, false, err
	}
	for slot := 0; slot < SlotsPerSector; slot++ {
		b := raw[slot*SlotSize : (slot+1)*SlotSize]
		if isEmptySlot(b) {
			return slot, true, nil
		}
	}
	return 0, false, nil
}
