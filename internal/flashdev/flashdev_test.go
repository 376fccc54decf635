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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemFlash(t *testing.T) {
	mf, err := NewMemFlash(DefaultLayout())
	if err != nil {
		t.Fatalf("NewMemFlash: %v", err)
	}
	ss := mf.Layout.SectorSize

	// Data spanning three sectors.
	data := bytes.Repeat([]byte{1, 2, 3, 4}, int(ss/2))
	w, err := mf.BeginWrite(0x102000 + ss/2)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	for _, c := range [][]byte{data[:10], data[10:]} {
		if _, err := w.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := mf.Read(0x102000, ss/2+uint32(len(data))+4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := append(bytes.Repeat([]byte{erased}, int(ss/2)), data...)
	want = append(want, erased, erased, erased, erased)
	if !bytes.Equal(got, want) {
		t.Fatal("Read back differs from written data")
	}

	if err := mf.EraseSector(0x102000 + ss + 5); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}
	got, _ = mf.Read(0x102000+ss, ss)
	if !bytes.Equal(got, bytes.Repeat([]byte{erased}, int(ss))) {
		t.Fatal("Sector not erased")
	}

	if _, err := mf.Read(mf.Layout.FlashSize-1, 2); err == nil {
		t.Fatal("Expected error reading beyond flash")
	}
	if _, err := mf.BeginWrite(mf.Layout.FlashSize); err == nil {
		t.Fatal("Expected error writing beyond flash")
	}
}

func TestMemFlashBoot(t *testing.T) {
	mf, err := NewMemFlash(DefaultLayout())
	if err != nil {
		t.Fatalf("NewMemFlash: %v", err)
	}
	if err := mf.Activate(1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	cfg, _ := mf.BootConfig()
	if cfg.CurrentSlot != 1 {
		t.Fatalf("Got current slot %d, want 1", cfg.CurrentSlot)
	}
	if err := mf.Activate(2); err == nil {
		t.Fatal("Expected error activating missing slot")
	}
	mf.ActivateErr = errors.New("nope")
	if err := mf.Activate(0); err == nil {
		t.Fatal("Expected injected error")
	}
	if diff := cmp.Diff([]uint8{1}, mf.Activations); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}
}

func TestFileFlash(t *testing.T) {
	dir := t.TempDir()
	l := DefaultLayout()
	l.FlashSize = 0x300000
	f, err := CreateFileFlash(dir, l)
	if err != nil {
		t.Fatalf("CreateFileFlash: %v", err)
	}

	// More than one batch, ending part way through a sector.
	data := bytes.Repeat([]byte{0xa5, 0x5a, 0x00}, int(l.SectorSize)*batchSectors/2)
	data = data[:len(data)-100]
	w, err := f.BeginWrite(0x102000)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	for off := 0; off < len(data); off += 1000 {
		if _, err := w.Write(data[off:min(off+1000, len(data))]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Activate(1); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := f.EraseSector(0x2000); err != nil {
		t.Fatalf("EraseSector: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err = OpenFileFlash(dir)
	if err != nil {
		t.Fatalf("OpenFileFlash: %v", err)
	}
	defer f.Close()
	cfg, _ := f.BootConfig()
	if cfg.CurrentSlot != 1 || cfg.FlashSize != l.FlashSize {
		t.Fatalf("Got boot config %+v", cfg)
	}

	got := make([]byte, len(data)+int(l.SectorSize))
	if _, err := f.ReadAt(got, 0x102000); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got[:len(data)], data) {
		t.Fatal("Image content differs from written data")
	}
	// Padding and untouched flash read as erased.
	for i, b := range got[len(data):] {
		if b != erased {
			t.Fatalf("Byte %d after image is 0x%02x, want erased", i, b)
		}
	}

	if _, err := f.BeginWrite(0x102001); err == nil {
		t.Fatal("Expected error for unaligned write")
	}
	w, _ = f.BeginWrite(l.FlashSize - l.SectorSize)
	if _, err := w.Write(make([]byte, l.SectorSize+1)); err == nil {
		t.Fatal("Expected error writing beyond flash")
	}
}

func TestOpenFileFlashMissing(t *testing.T) {
	if _, err := OpenFileFlash(t.TempDir()); err == nil {
		t.Fatal("Expected error for empty directory")
	}
}
