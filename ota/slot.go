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

import (
	"fmt"

	"k8s.io/klog/v2"
)

const (
	// regionSize is the size of the flash window a ROM image is mapped
	// through. ROM addresses are compared modulo this size.
	regionSize = 0x100000
	regionMask = regionSize - 1
)

// Slot is the flash region an upgrade is written to.
type Slot struct {
	// Address is the start of the slot in flash.
	Address uint32
	// Size is the number of bytes available before the next reserved region.
	Size uint32
	// Index is the boot slot index passed to BootStore.Activate.
	Index uint8
	// Updated is set once a ROM image has been completely written.
	Updated bool
}

// matches reports whether a ROM image linked for addr belongs in s.
func (s Slot) matches(addr uint32) bool {
	return s.Address&regionMask == addr&regionMask
}

// SelectSlot picks the slot which is not currently running.
//
// The slot extends to the end of its flash region, clamped by the end of
// flash, the start of every other slot, and each of the reserved addresses
// which lie after it.
func SelectSlot(cfg BootConfig, reserved []uint32) (Slot, error) {
	var s Slot
	if cfg.CurrentSlot != 0 {
		s.Index = 0
	} else {
		s.Index = 1
	}
	if int(s.Index) >= len(cfg.Slots) {
		return Slot{}, fmt.Errorf("boot config has %d slot(s), need slot %d", len(cfg.Slots), s.Index)
	}
	s.Address = cfg.Slots[s.Index]
	s.Size = regionSize - s.Address&regionMask

	limit := func(other uint32) {
		if other > s.Address {
			s.Size = min(s.Size, other-s.Address)
		}
	}
	limit(cfg.FlashSize)
	for i, a := range cfg.Slots {
		if i != int(cfg.CurrentSlot) {
			limit(a)
		}
	}
	for _, r := range reserved {
		limit(r)
	}
	klog.V(1).Infof("Selected slot %d at 0x%08x, %d bytes available", s.Index, s.Address, s.Size)
	return s, nil
}
