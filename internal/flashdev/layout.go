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

// Package flashdev provides flash and boot configuration devices which
// upgrade streams can be applied to outside of real hardware.
package flashdev

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/transparency-dev/armored-witness-ota/ota"
	"gopkg.in/yaml.v3"
)

// Layout describes the flash geometry and boot slots of a device.
type Layout struct {
	// SectorSize is the erase unit of the flash, in bytes.
	SectorSize uint32 `yaml:"sector_size"`
	// FlashSize is the size of the flash, in bytes.
	FlashSize uint32 `yaml:"flash_size"`
	// Slots holds the start address of each boot slot.
	Slots []uint32 `yaml:"slots,flow"`
	// CurrentSlot is the index of the slot which boots.
	CurrentSlot uint8 `yaml:"current_slot"`
	// Reserved holds the start address of regions an upgrade must not
	// overwrite, such as filesystems.
	Reserved []uint32 `yaml:"reserved,flow,omitempty"`
}

// DefaultLayout returns a 4MiB device with two slots in the first two 1MiB
// windows, each following a small bootloader area, and a filesystem at 2MiB.
func DefaultLayout() Layout {
	return Layout{
		SectorSize:  0x1000,
		FlashSize:   0x400000,
		Slots:       []uint32{0x002000, 0x102000},
		CurrentSlot: 0,
		Reserved:    []uint32{0x200000},
	}
}

// Validate checks that the layout is self-consistent, reporting every
// problem found.
func (l Layout) Validate() error {
	var result *multierror.Error
	if l.SectorSize == 0 || l.SectorSize&(l.SectorSize-1) != 0 {
		result = multierror.Append(result, fmt.Errorf("sector size %d is not a power of two", l.SectorSize))
	} else if l.FlashSize == 0 || l.FlashSize%l.SectorSize != 0 {
		result = multierror.Append(result, fmt.Errorf("flash size %d is not a non-zero multiple of the sector size", l.FlashSize))
	}
	if len(l.Slots) < 2 {
		result = multierror.Append(result, fmt.Errorf("need at least 2 slots, got %d", len(l.Slots)))
	}
	if int(l.CurrentSlot) >= len(l.Slots) {
		result = multierror.Append(result, fmt.Errorf("current slot %d out of range", l.CurrentSlot))
	}
	for i, a := range l.Slots {
		if a >= l.FlashSize {
			result = multierror.Append(result, fmt.Errorf("slot %d at 0x%x is beyond the end of flash", i, a))
		}
		if l.SectorSize != 0 && a%l.SectorSize != 0 {
			result = multierror.Append(result, fmt.Errorf("slot %d at 0x%x is not sector aligned", i, a))
		}
	}
	for _, r := range l.Reserved {
		if r >= l.FlashSize {
			result = multierror.Append(result, fmt.Errorf("reserved region 0x%x is beyond the end of flash", r))
		}
	}
	return result.ErrorOrNil()
}

// BootConfig returns the boot configuration the layout describes.
func (l Layout) BootConfig() ota.BootConfig {
	return ota.BootConfig{
		CurrentSlot: l.CurrentSlot,
		Slots:       append([]uint32(nil), l.Slots...),
		FlashSize:   l.FlashSize,
	}
}

// ParseLayout decodes and validates a YAML layout.
func ParseLayout(b []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(b, &l); err != nil {
		return Layout{}, fmt.Errorf("failed to parse layout: %v", err)
	}
	if err := l.Validate(); err != nil {
		return Layout{}, fmt.Errorf("invalid layout: %w", err)
	}
	return l, nil
}

// LoadLayout reads a YAML layout from path.
func LoadLayout(path string) (Layout, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	return ParseLayout(b)
}

// Marshal encodes the layout as YAML.
func (l Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}
