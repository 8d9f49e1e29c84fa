// mmap.go provides memory-mapped file backing for WAL persistence.
//
// When mmap backing is enabled, every committed domain event is persisted to
// disk and can survive process restarts. The OS handles flushing dirty pages
// asynchronously, so write performance remains similar to pure in-memory
// operation.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// File format:
//
//	[4]byte magic "SWAL"
//	[4]byte version
//	[8]byte write offset (updated on every append, mmap'd so it survives crashes)
//	... entries, each encoded by encodeEntry ...
//
// The write offset lives in the header rather than being derived from
// scanning, so Recover can stop as soon as it reaches it instead of reading
// past a torn trailing write left by a crash mid-append.
const (
	magic         = "SWAL"
	formatVersion = 1

	headerSize   = 16
	offsetOffset = 8

	defaultInitialSize = 4 << 20 // 4MiB
	growthFactor       = 2
)

// MmapPersister is a Persister backed by a memory-mapped file. Appends write
// into the mapped region and the write offset is updated with an atomic
// header write; Sync issues an asynchronous msync (MS_ASYNC), which schedules
// dirty pages for writeback without waiting for them to reach disk. Close
// issues a synchronous msync (MS_SYNC) before unmapping.
type MmapPersister struct {
	mu     sync.Mutex
	file   *os.File
	data   []byte
	size   int64
	offset int64
	path   string
	closed bool
}

// NewMmapPersister opens (creating if necessary) the WAL file at path and
// memory-maps it.
func NewMmapPersister(path string) (*MmapPersister, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	p := &MmapPersister{file: f, path: path}
	if err := p.init(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (p *MmapPersister) init() error {
	info, err := p.file.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		if err := p.grow(defaultInitialSize); err != nil {
			return err
		}
		if err := p.mmap(); err != nil {
			return err
		}
		copy(p.data[0:4], magic)
		binary.BigEndian.PutUint32(p.data[4:8], formatVersion)
		p.setOffset(headerSize)
		return nil
	}

	p.size = info.Size()
	if err := p.mmap(); err != nil {
		return err
	}
	if string(p.data[0:4]) != magic {
		return ErrCorrupted
	}
	if binary.BigEndian.Uint32(p.data[4:8]) != formatVersion {
		return ErrVersionMismatch
	}
	p.offset = int64(binary.BigEndian.Uint64(p.data[offsetOffset : offsetOffset+8]))
	if p.offset < headerSize || p.offset > p.size {
		return ErrCorrupted
	}
	return nil
}

func (p *MmapPersister) mmap() error {
	data, err := unix.Mmap(int(p.file.Fd()), 0, int(p.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("wal: mmap: %w", err)
	}
	p.data = data
	return nil
}

func (p *MmapPersister) munmap() error {
	if p.data == nil {
		return nil
	}
	err := unix.Munmap(p.data)
	p.data = nil
	return err
}

func (p *MmapPersister) grow(newSize int64) error {
	if err := p.file.Truncate(newSize); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	p.size = newSize
	return nil
}

func (p *MmapPersister) setOffset(off int64) {
	p.offset = off
	binary.BigEndian.PutUint64(p.data[offsetOffset:offsetOffset+8], uint64(off))
}

// Append implements Persister.
func (p *MmapPersister) Append(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPersisterClosed
	}

	buf := encodeEntry(ev)
	for p.offset+int64(len(buf)) > p.size {
		if err := p.remap(p.size * growthFactor); err != nil {
			return err
		}
	}

	copy(p.data[p.offset:p.offset+int64(len(buf))], buf)
	p.setOffset(p.offset + int64(len(buf)))
	return nil
}

func (p *MmapPersister) remap(newSize int64) error {
	if err := p.munmap(); err != nil {
		return err
	}
	if err := p.grow(newSize); err != nil {
		return err
	}
	return p.mmap()
}

// Sync implements Persister.
func (p *MmapPersister) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPersisterClosed
	}
	if p.data == nil {
		return nil
	}
	return unix.Msync(p.data, unix.MS_ASYNC)
}

// Recover implements Persister.
func (p *MmapPersister) Recover() ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []Event
	pos := int64(headerSize)
	for pos < p.offset {
		ev, n, err := decodeEntry(p.data[pos:p.offset])
		if err != nil {
			// A torn trailing write (crash mid-append) stops replay at the
			// last good entry rather than failing recovery outright.
			if err == ErrTruncatedEntry {
				break
			}
			return nil, err
		}
		events = append(events, ev)
		pos += int64(n)
	}
	return events, nil
}

// Close implements Persister.
func (p *MmapPersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.data != nil {
		if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
			errs = append(errs, err)
		}
		if err := p.munmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("wal: close: %v", errs)
	}
	return nil
}

// IsEnabled implements Persister.
func (p *MmapPersister) IsEnabled() bool { return true }

var _ Persister = (*MmapPersister)(nil)
