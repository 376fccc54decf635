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

package ota_test

import (
	"crypto"
	"crypto/ed25519"
	"crypto/md5"
	"crypto/sha512"
	"testing"

	"github.com/transparency-dev/armored-witness-ota/ota"
	"github.com/transparency-dev/armored-witness-ota/otafile"
)

func TestChecksumVerifier(t *testing.T) {
	data := []byte("some firmware bytes")
	sum := md5.Sum(data)

	v := ota.NewChecksumVerifier()
	if v.Magic() != otafile.MagicChecksum || v.TrailerSize() != otafile.ChecksumSize {
		t.Fatalf("Got magic 0x%x size %d", v.Magic(), v.TrailerSize())
	}
	// Incremental writes are equivalent to a single one.
	v.Write(data[:4])
	v.Write(data[4:])
	if !v.Verify(sum[:]) {
		t.Fatal("Verify failed for matching checksum")
	}

	v = ota.NewChecksumVerifier()
	v.Write(data)
	sum[0] ^= 1
	if v.Verify(sum[:]) {
		t.Fatal("Verify succeeded for mismatched checksum")
	}
}

func TestSignatureVerifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	data := []byte("some firmware bytes")
	digest := sha512.Sum512(data)
	sig, err := priv.Sign(nil, digest[:], &ed25519.Options{Hash: crypto.SHA512})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for _, test := range []struct {
		name  string
		write [][]byte
		sig   []byte
		want  bool
	}{
		{
			name:  "whole",
			write: [][]byte{data},
			sig:   sig,
			want:  true,
		}, {
			name:  "split",
			write: [][]byte{data[:1], data[1:7], data[7:]},
			sig:   sig,
			want:  true,
		}, {
			name:  "different data",
			write: [][]byte{data[1:]},
			sig:   sig,
		}, {
			name:  "pure ed25519 signature",
			write: [][]byte{data},
			sig:   ed25519.Sign(priv, data),
		}, {
			name:  "short signature",
			write: [][]byte{data},
			sig:   sig[:63],
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			v := ota.NewSignatureVerifier(pub)
			if v.Magic() != otafile.MagicSigned || v.TrailerSize() != otafile.SignatureSize {
				t.Fatalf("Got magic 0x%x size %d", v.Magic(), v.TrailerSize())
			}
			for _, w := range test.write {
				v.Write(w)
			}
			if got := v.Verify(test.sig); got != test.want {
				t.Fatalf("Got %t, want %t", got, test.want)
			}
		})
	}
}
