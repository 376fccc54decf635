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

// Package otafile describes the OTA upgrade container format and provides
// tooling to build and inspect upgrade files.
//
// All integers are little-endian. A container is laid out as:
//
//	Header          16 bytes
//	RomHeader        8 bytes  \
//	ROM payload   Size bytes  / repeated Header.RomCount times
//	trailer     16 or 64 bytes (MD5 checksum or Ed25519ph signature)
//
// The trailer covers every preceding byte of the container.
package otafile

import (
	"crypto/ed25519"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// MagicChecksum identifies containers protected by an MD5 checksum only.
	MagicChecksum uint32 = 0xf01af020
	// MagicSigned identifies containers protected by an Ed25519ph signature.
	MagicSigned uint32 = 0xf01af02a

	// HeaderSize is the encoded size of Header.
	HeaderSize = 16
	// RomHeaderSize is the encoded size of RomHeader.
	RomHeaderSize = 8
	// ChecksumSize is the size of the trailer of a checksum container.
	ChecksumSize = md5.Size
	// SignatureSize is the size of the trailer of a signed container.
	SignatureSize = ed25519.SignatureSize

	// MaxRoms is the largest number of ROM images a container can carry.
	MaxRoms = 255
)

// ErrUnknownMagic is returned when a header carries neither known magic value.
var ErrUnknownMagic = errors.New("unknown container magic")

// timestampEpoch is the zero point of build timestamps.
var timestampEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Timestamp is a build timestamp in milliseconds since 1900-01-01 00:00 UTC.
type Timestamp uint64

// TimestampFromTime converts t to a build timestamp.
// Times before the epoch map to zero.
func TimestampFromTime(t time.Time) Timestamp {
	d := t.Sub(timestampEpoch)
	if d < 0 {
		return 0
	}
	// time.Duration saturates around the year 2192, which is fine for builds.
	return Timestamp(d / time.Millisecond)
}

// Time returns the wall clock time the timestamp refers to.
func (t Timestamp) Time() time.Time {
	return timestampEpoch.Add(time.Duration(t) * time.Millisecond)
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d (%s)", uint64(t), t.Time().Format(time.RFC3339))
}

// Header is the fixed-size header at the start of every container.
type Header struct {
	Magic          uint32
	BuildTimestamp Timestamp
	RomCount       uint8
	// Reserved must be written as zero; readers do not enforce it.
	Reserved [3]byte
}

// Signed reports whether the header describes a signed container.
func (h Header) Signed() bool {
	return h.Magic == MagicSigned
}

// TrailerSize returns the size of the verification trailer implied by the
// header magic, or an error if the magic is not recognised.
func (h Header) TrailerSize() (int, error) {
	switch h.Magic {
	case MagicChecksum:
		return ChecksumSize, nil
	case MagicSigned:
		return SignatureSize, nil
	}
	return 0, fmt.Errorf("%w 0x%08x", ErrUnknownMagic, h.Magic)
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// AppendBinary appends the encoded header to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.BuildTimestamp))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.BuildTimestamp>>32))
	b = append(b, h.RomCount)
	return append(b, h.Reserved[:]...), nil
}

// UnmarshalBinary decodes a header from b, which must hold at least
// HeaderSize bytes. The magic value is not validated here.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("header needs %d bytes, got %d", HeaderSize, len(b))
	}
	h.Magic = binary.LittleEndian.Uint32(b[0:4])
	lo := binary.LittleEndian.Uint32(b[4:8])
	hi := binary.LittleEndian.Uint32(b[8:12])
	h.BuildTimestamp = Timestamp(uint64(hi)<<32 | uint64(lo))
	h.RomCount = b[12]
	copy(h.Reserved[:], b[13:16])
	return nil
}

// RomHeader precedes each ROM payload.
type RomHeader struct {
	// Address is the absolute flash address the image is built for.
	Address uint32
	// Size is the length of the payload following this header.
	Size uint32
}

// MarshalBinary encodes the ROM header.
func (r RomHeader) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RomHeaderSize))
}

// AppendBinary appends the encoded ROM header to b.
func (r RomHeader) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, r.Address)
	return binary.LittleEndian.AppendUint32(b, r.Size), nil
}

// UnmarshalBinary decodes a ROM header from b.
func (r *RomHeader) UnmarshalBinary(b []byte) error {
	if len(b) < RomHeaderSize {
		return fmt.Errorf("ROM header needs %d bytes, got %d", RomHeaderSize, len(b))
	}
	r.Address = binary.LittleEndian.Uint32(b[0:4])
	r.Size = binary.LittleEndian.Uint32(b[4:8])
	return nil
}
