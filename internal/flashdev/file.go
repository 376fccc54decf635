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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/transparency-dev/armored-witness-ota/ota"
	"k8s.io/klog/v2"
)

const (
	// ImageFile holds the raw flash content within a device directory.
	ImageFile = "flash.img"
	// BootFile holds the YAML layout, including the current slot.
	BootFile = "boot.yaml"

	// batchSectors is the number of sectors written to the image at once.
	batchSectors = 16
)

// FileFlash is a flash device backed by a directory on disk.
type FileFlash struct {
	dir    string
	layout Layout
	img    *os.File
}

// CreateFileFlash initialises a device directory with an erased image and
// the given layout.
func CreateFileFlash(dir string, l Layout) (*FileFlash, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	img, err := os.OpenFile(filepath.Join(dir, ImageFile), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	f := &FileFlash{dir: dir, layout: l, img: img}
	blank := bytes.Repeat([]byte{erased}, int(l.SectorSize)*batchSectors)
	for off := uint32(0); off < l.FlashSize; off += uint32(len(blank)) {
		n := min(uint32(len(blank)), l.FlashSize-off)
		if _, err := img.WriteAt(blank[:n], int64(off)); err != nil {
			img.Close()
			return nil, fmt.Errorf("failed to erase image: %v", err)
		}
	}
	if err := f.saveLayout(); err != nil {
		img.Close()
		return nil, err
	}
	klog.Infof("Created %d byte flash device in %s", l.FlashSize, dir)
	return f, nil
}

// OpenFileFlash opens an existing device directory.
func OpenFileFlash(dir string) (*FileFlash, error) {
	l, err := LoadLayout(filepath.Join(dir, BootFile))
	if err != nil {
		return nil, err
	}
	img, err := os.OpenFile(filepath.Join(dir, ImageFile), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := img.Stat()
	if err != nil {
		img.Close()
		return nil, err
	}
	if st.Size() != int64(l.FlashSize) {
		img.Close()
		return nil, fmt.Errorf("image is %d bytes, layout says %d", st.Size(), l.FlashSize)
	}
	return &FileFlash{dir: dir, layout: l, img: img}, nil
}

// Layout returns the current device layout.
func (f *FileFlash) Layout() Layout { return f.layout }

// Close releases the image file.
func (f *FileFlash) Close() error { return f.img.Close() }

// ReadAt reads flash content into p starting at addr.
func (f *FileFlash) ReadAt(p []byte, addr int64) (int, error) {
	return f.img.ReadAt(p, addr)
}

// BeginWrite implements ota.Flash.
//
// Data is buffered and written in batches of whole sectors; the final
// partial sector is padded with erased bytes on Close.
func (f *FileFlash) BeginWrite(addr uint32) (io.WriteCloser, error) {
	if addr >= f.layout.FlashSize {
		return nil, fmt.Errorf("write address 0x%x beyond end of flash", addr)
	}
	if addr%f.layout.SectorSize != 0 {
		return nil, fmt.Errorf("write address 0x%x is not sector aligned", addr)
	}
	return &fileWriter{f: f, addr: addr, start: addr}, nil
}

// EraseSector implements ota.Flash.
func (f *FileFlash) EraseSector(addr uint32) error {
	if addr >= f.layout.FlashSize {
		return fmt.Errorf("erase address 0x%x beyond end of flash", addr)
	}
	ss := f.layout.SectorSize
	_, err := f.img.WriteAt(bytes.Repeat([]byte{erased}, int(ss)), int64(addr/ss*ss))
	return err
}

// BootConfig implements ota.BootStore.
func (f *FileFlash) BootConfig() (ota.BootConfig, error) {
	return f.layout.BootConfig(), nil
}

// Activate implements ota.BootStore.
func (f *FileFlash) Activate(slot uint8) error {
	if int(slot) >= len(f.layout.Slots) {
		return fmt.Errorf("no slot %d", slot)
	}
	if err := f.img.Sync(); err != nil {
		return err
	}
	prev := f.layout.CurrentSlot
	f.layout.CurrentSlot = slot
	if err := f.saveLayout(); err != nil {
		f.layout.CurrentSlot = prev
		return err
	}
	return nil
}

// saveLayout replaces the boot file in a single rename.
func (f *FileFlash) saveLayout() error {
	b, err := f.layout.Marshal()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, BootFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(f.dir, BootFile))
}

type fileWriter struct {
	f     *FileFlash
	start uint32
	addr  uint32
	buf   []byte
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.f == nil {
		return 0, errors.New("write after close")
	}
	if uint64(w.addr)+uint64(len(w.buf))+uint64(len(p)) > uint64(w.f.layout.FlashSize) {
		return 0, fmt.Errorf("write beyond end of flash at 0x%x", w.addr)
	}
	w.buf = append(w.buf, p...)
	batch := int(w.f.layout.SectorSize) * batchSectors
	for len(w.buf) >= batch {
		if err := w.flush(w.buf[:batch]); err != nil {
			return 0, err
		}
		w.buf = w.buf[batch:]
	}
	return len(p), nil
}

func (w *fileWriter) flush(b []byte) error {
	if _, err := w.f.img.WriteAt(b, int64(w.addr)); err != nil {
		return err
	}
	w.addr += uint32(len(b))
	klog.V(2).Infof("Flashed %d bytes from 0x%08x", w.addr-w.start, w.start)
	return nil
}

func (w *fileWriter) Close() error {
	if w.f == nil {
		return nil
	}
	defer func() { w.f = nil }()
	ss := int(w.f.layout.SectorSize)
	if rem := len(w.buf) % ss; rem > 0 {
		w.buf = append(w.buf, bytes.Repeat([]byte{erased}, ss-rem)...)
	}
	if len(w.buf) > 0 {
		if err := w.flush(w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	return w.f.img.Sync()
}
