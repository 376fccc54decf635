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

package ota

import "io"

// Flash is the storage driver which ROM images are written through.
type Flash interface {
	// BeginWrite starts a sequential write at addr. Closing the returned
	// writer flushes any buffered data; the image is only considered
	// written once Close returns nil.
	BeginWrite(addr uint32) (io.WriteCloser, error)
	// EraseSector erases the sector containing addr.
	EraseSector(addr uint32) error
}

// BootConfig describes the boot slots known to the bootloader.
type BootConfig struct {
	// CurrentSlot is the index of the running slot.
	CurrentSlot uint8
	// Slots holds the flash address of each slot.
	Slots []uint32
	// FlashSize is the total size of the flash device in bytes.
	FlashSize uint32
}

// BootStore holds the persistent record of which slot boots next.
type BootStore interface {
	BootConfig() (BootConfig, error)
	// Activate marks slot as the one to boot next.
	Activate(slot uint8) error
}
