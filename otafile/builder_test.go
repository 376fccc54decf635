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
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/md5"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/transparency-dev/armored-witness-ota/secretstream"
)

func testRoms() []Rom {
	return []Rom{
		{Address: 0x2000, Data: bytes.Repeat([]byte{0xaa}, 100)},
		{Address: 0x102000, Data: bytes.Repeat([]byte{0x55}, 50)},
	}
}

func TestBuildChecksum(t *testing.T) {
	out, err := Builder{Timestamp: 42}.Build(testRoms())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wantLen := HeaderSize + 2*RomHeaderSize + 150 + ChecksumSize
	if len(out) != wantLen {
		t.Fatalf("Got %d bytes, want %d", len(out), wantLen)
	}
	body := out[:len(out)-ChecksumSize]
	sum := md5.Sum(body)
	if !bytes.Equal(sum[:], out[len(body):]) {
		t.Fatal("Checksum trailer does not cover the file")
	}
}

func TestBuildSigned(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	out, err := Builder{Timestamp: 42, Signer: priv}.Build(testRoms())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	body, sig := out[:len(out)-SignatureSize], out[len(out)-SignatureSize:]
	digest := sha512.Sum512(body)
	if err := ed25519.VerifyWithOptions(pub, digest[:], sig, &ed25519.Options{Hash: crypto.SHA512}); err != nil {
		t.Fatalf("Signature does not verify: %v", err)
	}
	var h Header
	if err := h.UnmarshalBinary(out); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !h.Signed() {
		t.Fatal("Header not marked as signed")
	}
}

func TestBuildTooManyRoms(t *testing.T) {
	if _, err := (Builder{}).Build(make([]Rom, MaxRoms+1)); err == nil {
		t.Fatal("Expected error")
	}
}

func TestInspect(t *testing.T) {
	out, err := Builder{Timestamp: 1234}.Build(testRoms())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, test := range []struct {
		name         string
		in           []byte
		wantErr      error
		wantTrailing int64
	}{
		{
			name: "valid",
			in:   out,
		}, {
			name:         "trailing data",
			in:           append(append([]byte{}, out...), 1, 2, 3),
			wantTrailing: 3,
		}, {
			name:    "truncated header",
			in:      out[:10],
			wantErr: io.ErrUnexpectedEOF,
		}, {
			name:    "truncated payload",
			in:      out[:HeaderSize+RomHeaderSize+10],
			wantErr: io.ErrUnexpectedEOF,
		}, {
			name:    "truncated trailer",
			in:      out[:len(out)-1],
			wantErr: io.ErrUnexpectedEOF,
		}, {
			name:    "bad magic",
			in:      append([]byte{0xef, 0xbe, 0xad, 0xde}, out[4:]...),
			wantErr: ErrUnknownMagic,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			info, err := Inspect(bytes.NewReader(test.in))
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Got %v, want %v", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Inspect: %v", err)
			}
			wantRoms := []RomHeader{{Address: 0x2000, Size: 100}, {Address: 0x102000, Size: 50}}
			if diff := cmp.Diff(wantRoms, info.Roms); diff != "" {
				t.Fatalf("Got diff: %s", diff)
			}
			if info.Size != int64(len(out)) {
				t.Errorf("Got size %d, want %d", info.Size, len(out))
			}
			if info.Trailing != test.wantTrailing {
				t.Errorf("Got %d trailing bytes, want %d", info.Trailing, test.wantTrailing)
			}
			if p := info.Print(); !strings.Contains(p, "0x00102000") {
				t.Errorf("Print() missing ROM address:\n%s", p)
			}
		})
	}
}

func TestEncrypt(t *testing.T) {
	key := bytes.Repeat([]byte{7}, secretstream.KeySize)
	plain := bytes.Repeat([]byte("firmware"), 1000)

	for _, test := range []struct {
		name      string
		chunkSize int
		wantErr   bool
	}{
		{name: "default", chunkSize: 0},
		{name: "small", chunkSize: secretstream.ABytes + 1},
		{name: "max", chunkSize: 65536},
		{name: "too small", chunkSize: secretstream.ABytes, wantErr: true},
		{name: "too big", chunkSize: 65537, wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			enc, err := Encrypt(plain, key, test.chunkSize)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
			if test.wantErr {
				return
			}
			got := decryptAll(t, key, enc)
			if !bytes.Equal(got, plain) {
				t.Fatal("Decrypted data differs from plaintext")
			}
		})
	}
}

func decryptAll(t *testing.T, key, enc []byte) []byte {
	t.Helper()
	d, err := secretstream.NewDecryptor(key, enc[:secretstream.HeaderSize])
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	enc = enc[secretstream.HeaderSize:]
	var out []byte
	for {
		if len(enc) < 2 {
			t.Fatal("Missing final chunk")
		}
		n := int(binary.LittleEndian.Uint16(enc)) + 1
		m, tag, err := d.Pull(enc[2 : 2+n])
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		out = append(out, m...)
		enc = enc[2+n:]
		if tag == secretstream.TagFinal {
			break
		}
	}
	if len(enc) != 0 {
		t.Fatalf("%d bytes after final chunk", len(enc))
	}
	return out
}
