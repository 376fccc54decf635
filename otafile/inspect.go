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

package otafile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// Info describes the structure of a container.
type Info struct {
	Header  Header
	Roms    []RomHeader
	Trailer []byte
	// Size is the total size of the container, in bytes.
	Size int64
	// Trailing counts bytes found after the trailer.
	Trailing int64
}

// Inspect reads a plaintext container from r without retaining ROM payloads.
func Inspect(r io.Reader) (*Info, error) {
	var (
		info Info
		buf  [HeaderSize]byte
	)
	if err := readFull(r, buf[:], "header"); err != nil {
		return nil, err
	}
	if err := info.Header.UnmarshalBinary(buf[:]); err != nil {
		return nil, err
	}
	trailerSize, err := info.Header.TrailerSize()
	if err != nil {
		return nil, err
	}
	info.Size = HeaderSize

	for i := 0; i < int(info.Header.RomCount); i++ {
		if err := readFull(r, buf[:RomHeaderSize], fmt.Sprintf("ROM header %d", i)); err != nil {
			return nil, err
		}
		var rh RomHeader
		if err := rh.UnmarshalBinary(buf[:RomHeaderSize]); err != nil {
			return nil, err
		}
		n, err := io.CopyN(io.Discard, r, int64(rh.Size))
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("ROM %d: read %d of %d bytes: %w", i, n, rh.Size, err)
		}
		info.Roms = append(info.Roms, rh)
		info.Size += RomHeaderSize + int64(rh.Size)
	}

	info.Trailer = make([]byte, trailerSize)
	if err := readFull(r, info.Trailer, "trailer"); err != nil {
		return nil, err
	}
	info.Size += int64(trailerSize)

	if info.Trailing, err = io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return &info, nil
}

func readFull(r io.Reader, b []byte, what string) error {
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("failed to read %s: %w", what, err)
	}
	return nil
}

// Print returns a human readable summary of the container.
func (i Info) Print() string {
	var b strings.Builder
	kind := "checksum"
	if i.Header.Signed() {
		kind = "signed"
	}
	fmt.Fprintf(&b, "Container:       %s (magic 0x%08x)\n", kind, i.Header.Magic)
	fmt.Fprintf(&b, "Build timestamp: %s\n", i.Header.BuildTimestamp)
	fmt.Fprintf(&b, "Total size:      %s\n", humanize.IBytes(uint64(i.Size)))
	if i.Header.Reserved != [3]byte{} {
		fmt.Fprintf(&b, "Reserved:        %x\n", i.Header.Reserved)
	}
	fmt.Fprintf(&b, "ROM images:      %d\n", len(i.Roms))
	for n, r := range i.Roms {
		fmt.Fprintf(&b, "  %d: 0x%08x..0x%08x %s\n", n, r.Address, uint64(r.Address)+uint64(r.Size), humanize.IBytes(uint64(r.Size)))
	}
	fmt.Fprintf(&b, "Trailer:         %x\n", i.Trailer)
	if i.Trailing > 0 {
		fmt.Fprintf(&b, "Trailing data:   %s\n", humanize.IBytes(uint64(i.Trailing)))
	}
	return b.String()
}
