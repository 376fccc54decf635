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
	"crypto"
	"crypto/ed25519"
	"crypto/md5"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/transparency-dev/armored-witness-ota/secretstream"
	"k8s.io/klog/v2"
)

// DefaultCipherChunkSize is the size of each encrypted chunk, tag included,
// written by Encrypt when no other size is requested.
const DefaultCipherChunkSize = 2048

// Rom is a single image to be placed in a container.
type Rom struct {
	// Address is the flash address the image was linked for.
	Address uint32
	// Data is the raw image content.
	Data []byte
}

// Builder assembles upgrade containers.
type Builder struct {
	// Timestamp is the build timestamp written into the header.
	Timestamp Timestamp
	// Signer, if set, signs the container. Otherwise an MD5 checksum is
	// appended.
	Signer ed25519.PrivateKey
}

// Build returns a container holding roms in order.
func (b Builder) Build(roms []Rom) ([]byte, error) {
	if err := validateRoms(roms); err != nil {
		return nil, err
	}

	h := Header{
		Magic:          MagicChecksum,
		BuildTimestamp: b.Timestamp,
		RomCount:       uint8(len(roms)),
	}
	if b.Signer != nil {
		h.Magic = MagicSigned
	}

	size := HeaderSize
	for _, r := range roms {
		size += RomHeaderSize + len(r.Data)
	}
	out, _ := h.AppendBinary(make([]byte, 0, size+SignatureSize))
	for _, r := range roms {
		out, _ = RomHeader{Address: r.Address, Size: uint32(len(r.Data))}.AppendBinary(out)
		out = append(out, r.Data...)
	}

	// The trailer covers the whole file, header included, so that not even
	// the build timestamp can be altered.
	if b.Signer != nil {
		digest := sha512.Sum512(out)
		sig, err := b.Signer.Sign(nil, digest[:], &ed25519.Options{Hash: crypto.SHA512})
		if err != nil {
			return nil, fmt.Errorf("failed to sign container: %v", err)
		}
		out = append(out, sig...)
	} else {
		sum := md5.Sum(out)
		out = append(out, sum[:]...)
	}
	klog.V(1).Infof("Built container: %d ROM(s), %d bytes, signed=%t", len(roms), len(out), b.Signer != nil)
	return out, nil
}

func validateRoms(roms []Rom) error {
	var result *multierror.Error
	if len(roms) > MaxRoms {
		result = multierror.Append(result, fmt.Errorf("too many ROMs: %d > %d", len(roms), MaxRoms))
	}
	for i, r := range roms {
		if uint64(len(r.Data)) > math.MaxUint32 {
			result = multierror.Append(result, fmt.Errorf("ROM %d: image of %d bytes is too large", i, len(r.Data)))
		}
	}
	return result.ErrorOrNil()
}

// Encrypt wraps a finished container in the secret stream envelope keyed
// with key. Each chunk is prefixed with its ciphertext length minus one as a
// little-endian uint16; chunkSize is the ciphertext length of every chunk
// but the last, and 0 selects DefaultCipherChunkSize.
func Encrypt(plain []byte, key []byte, chunkSize int) ([]byte, error) {
	if chunkSize == 0 {
		chunkSize = DefaultCipherChunkSize
	}
	if chunkSize <= secretstream.ABytes || chunkSize > math.MaxUint16+1 {
		return nil, fmt.Errorf("invalid cipher chunk size %d", chunkSize)
	}
	enc, header, err := secretstream.NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	msgSize := chunkSize - secretstream.ABytes

	out := make([]byte, 0, len(header)+len(plain)+(len(plain)/msgSize+1)*(2+secretstream.ABytes))
	out = append(out, header...)
	for off := 0; ; {
		end := min(off+msgSize, len(plain))
		tag := secretstream.TagMessage
		if end == len(plain) {
			tag = secretstream.TagFinal
		}
		c := enc.Push(plain[off:end], tag)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(c)-1))
		out = append(out, c...)
		off = end
		if tag == secretstream.TagFinal {
			break
		}
	}
	return out, nil
}
