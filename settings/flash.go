package settings

import (
	"fmt"
	"io"
	"os"
)

// Flash abstracts the two 4 KiB sectors backing the journal. A real build
// targets on-chip SPI flash; this adapter runs as a USB/IP host service, so
// the default implementation backs the two sectors with a single file,
// following the same "settings live under the user config directory"
// convention internal/configpaths establishes for every other persisted
// file this adapter writes.
type Flash interface {
	// ReadSector returns sector i's full contents (SectorSize bytes).
	ReadSector(i int) ([]byte, error)
	// WriteSlot programs one SlotSize-byte page at sector i, slot j. Must
	// not require an erase (the caller only calls this on an already-empty
	// slot).
	WriteSlot(i, j int, data []byte) error
	// EraseSector resets sector i to the all-0xFF erased state.
	EraseSector(i int) error
}

// FileFlash implements Flash over a single on-disk file of 2*SectorSize
// bytes, read and written in SlotSize-aligned pages to mirror how a real
// flash part is only ever programmed a page at a time.
type FileFlash struct {
	f *os.File
}

// OpenFileFlash opens (creating if absent) a file-backed flash image at
// path, initialising both sectors to the erased state (all 0xFF) if newly
// created.
func OpenFileFlash(path string) (*FileFlash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("settings: open flash image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	ff := &FileFlash{f: f}
	if info.Size() < 2*SectorSize {
		if err := ff.EraseSector(0); err != nil {
			f.Close()
			return nil, err
		}
		if err := ff.EraseSector(1); err != nil {
			f.Close()
			return nil, err
		}
	}
	return ff, nil
}

func (ff *FileFlash) Close() error { return ff.f.Close() }

func (ff *FileFlash) ReadSector(i int) ([]byte, error) {
	buf := make([]byte, SectorSize)
	if _, err := ff.f.ReadAt(buf, int64(i)*SectorSize); err != nil && err != io.EOF {
		return nil, fmt.Errorf("settings: read sector %d: %w", i, err)
	}
	return buf, nil
}

func (ff *FileFlash) WriteSlot(i, j int, data []byte) error {
	if len(data) != SlotSize {
		return fmt.Errorf("settings: slot write must be %d bytes, got %d", SlotSize, len(data))
	}
	off := int64(i)*SectorSize + int64(j)*SlotSize
	if _, err := ff.f.WriteAt(data, off); err != nil {
		return fmt.Errorf("settings: write sector %d slot %d: %w", i, j, err)
	}
	return ff.f.Sync()
}

func (ff *FileFlash) EraseSector(i int) error {
	erased := make([]byte, SectorSize)
	for k := range erased {
		erased[k] = 0xFF
	}
	if _, err := ff.f.WriteAt(erased, int64(i)*SectorSize); err != nil {
		return fmt.Errorf("settings: erase sector %d: %w", i, err)
	}
	return ff.f.Sync()
}

// MemFlash is an in-memory Flash, used by tests and by hosts with no
// persistent storage configured.
type MemFlash struct {
	sectors [2][]byte
}

// NewMemFlash returns a MemFlash with both sectors erased.
func NewMemFlash() *MemFlash {
	m := &MemFlash{}
	for s := range m.sectors {
		m.sectors[s] = make([]byte, SectorSize)
		for i := range m.sectors[s] {
			m.sectors[s][i] = 0xFF
		}
	}
	return m
}

func (m *MemFlash) ReadSector(i int) ([]byte, error) {
	out := make([]byte, SectorSize)
	copy(out, m.sectors[i])
	return out, nil
}

func (m *MemFlash) WriteSlot(i, j int, data []byte) error {
	if len(data) != SlotSize {
		return fmt.Errorf("settings: slot write must be %d bytes, got %d", SlotSize, len(data))
	}
	copy(m.sectors[i][j*SlotSize:(j+1)*SlotSize], data)
	return nil
}

func (m *MemFlash) EraseSector(i int) error {
	for k := range m.sectors[i] {
		m.sectors[i][k] = 0xFF
	}
	return nil
}
