// Copyright 2026 The Armored Witness OTA authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flashdev

import (
	"bytes"
	"fmt"
	"io"

	"github.com/transparency-dev/armored-witness-ota/ota"
)

const erased = 0xff

// MemFlash is a sparse in-memory flash device with a boot configuration.
// Sectors which were never written read back as erased.
//
// Writers erase each sector as they enter it, as NOR flash drivers do.
type MemFlash struct {
	Layout Layout

	sectors map[uint32][]byte

	// OnWrite, if set, is called before data is written at addr. A non-nil
	// return fails the write.
	OnWrite func(addr uint32, p []byte) error
	// ActivateErr, if set, is returned by Activate.
	ActivateErr error

	// Writes counts calls to BeginWrite.
	Writes int
	// BytesWritten counts bytes written by all writers.
	BytesWritten int
	// Erases holds the address passed to each EraseSector call.
	Erases []uint32
	// Activations holds the slot passed to each successful Activate call.
	Activations []uint8
}

// NewMemFlash returns an erased device with layout l.
func NewMemFlash(l Layout) (*MemFlash, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &MemFlash{Layout: l, sectors: make(map[uint32][]byte)}, nil
}

func (m *MemFlash) sector(n uint32) []byte {
	s, ok := m.sectors[n]
	if !ok {
		s = bytes.Repeat([]byte{erased}, int(m.Layout.SectorSize))
		m.sectors[n] = s
	}
	return s
}

func (m *MemFlash) erase(n uint32) {
	delete(m.sectors, n)
}

// Read returns n bytes of flash content starting at addr.
func (m *MemFlash) Read(addr, n uint32) ([]byte, error) {
	if uint64(addr)+uint64(n) > uint64(m.Layout.FlashSize) {
		return nil, fmt.Errorf("read [0x%x..0x%x) beyond end of flash", addr, uint64(addr)+uint64(n))
	}
	ss := m.Layout.SectorSize
	out := make([]byte, 0, n)
	for a := addr; a < addr+n; {
		off := a % ss
		l := min(ss-off, addr+n-a)
		if s, ok := m.sectors[a/ss]; ok {
			out = append(out, s[off:off+l]...)
		} else {
			out = append(out, bytes.Repeat([]byte{erased}, int(l))...)
		}
		a += l
	}
	return out, nil
}

// BeginWrite implements ota.Flash.
func (m *MemFlash) BeginWrite(addr uint32) (io.WriteCloser, error) {
	if addr >= m.Layout.FlashSize {
		return nil, fmt.Errorf("write address 0x%x beyond end of flash", addr)
	}
	m.Writes++
	return &memWriter{m: m, addr: addr, last: ^uint32(0)}, nil
}

// EraseSector implements ota.Flash.
func (m *MemFlash) EraseSector(addr uint32) error {
	if addr >= m.Layout.FlashSize {
		return fmt.Errorf("erase address 0x%x beyond end of flash", addr)
	}
	m.Erases = append(m.Erases, addr)
	m.erase(addr / m.Layout.SectorSize)
	return nil
}

// BootConfig implements ota.BootStore.
func (m *MemFlash) BootConfig() (ota.BootConfig, error) {
	return m.Layout.BootConfig(), nil
}

// Activate implements ota.BootStore.
func (m *MemFlash) Activate(slot uint8) error {
	if m.ActivateErr != nil {
		return m.ActivateErr
	}
	if int(slot) >= len(m.Layout.Slots) {
		return fmt.Errorf("no slot %d", slot)
	}
	m.Layout.CurrentSlot = slot
	m.Activations = append(m.Activations, slot)
	return nil
}

type memWriter struct {
	m    *MemFlash
	addr uint32
	// last is the most recently erased sector.
	last   uint32
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write after close")
	}
	m := w.m
	if uint64(w.addr)+uint64(len(p)) > uint64(m.Layout.FlashSize) {
		return 0, fmt.Errorf("write [0x%x..0x%x) beyond end of flash", w.addr, uint64(w.addr)+uint64(len(p)))
	}
	if m.OnWrite != nil {
		if err := m.OnWrite(w.addr, p); err != nil {
			return 0, err
		}
	}
	ss := m.Layout.SectorSize
	n := 0
	for n < len(p) {
		sn := w.addr / ss
		if sn != w.last {
			m.erase(sn)
			w.last = sn
		}
		off := w.addr % ss
		c := copy(m.sector(sn)[off:], p[n:])
		n += c
		w.addr += uint32(c)
	}
	m.BytesWritten += n
	return n, nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}
