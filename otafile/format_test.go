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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderEncoding(t *testing.T) {
	h := Header{
		Magic:          MagicSigned,
		BuildTimestamp: 0x0123456789abcdef,
		RomCount:       2,
		Reserved:       [3]byte{0, 1, 0},
	}
	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	want := []byte{
		0x2a, 0xf0, 0x1a, 0xf0, // magic
		0xef, 0xcd, 0xab, 0x89, // timestamp low
		0x67, 0x45, 0x23, 0x01, // timestamp high
		0x02,
		0x00, 0x01, 0x00,
	}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}

	var got Header
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}
}

func TestHeaderShort(t *testing.T) {
	var h Header
	if err := h.UnmarshalBinary(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("Expected error for short header")
	}
	var r RomHeader
	if err := r.UnmarshalBinary(make([]byte, RomHeaderSize-1)); err == nil {
		t.Fatal("Expected error for short ROM header")
	}
}

func TestRomHeaderEncoding(t *testing.T) {
	b, _ := RomHeader{Address: 0x40202010, Size: 0x1234}.MarshalBinary()
	want := []byte{0x10, 0x20, 0x20, 0x40, 0x34, 0x12, 0x00, 0x00}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}
}

func TestTrailerSize(t *testing.T) {
	for _, test := range []struct {
		name    string
		magic   uint32
		want    int
		wantErr bool
	}{
		{name: "checksum", magic: MagicChecksum, want: 16},
		{name: "signed", magic: MagicSigned, want: 64},
		{name: "unknown", magic: 0xdeadbeef, wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := Header{Magic: test.magic}.TrailerSize()
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
			if test.wantErr {
				if !errors.Is(err, ErrUnknownMagic) {
					t.Fatalf("Got %v, want ErrUnknownMagic", err)
				}
				return
			}
			if got != test.want {
				t.Fatalf("Got %d, want %d", got, test.want)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	for _, test := range []struct {
		name string
		in   time.Time
		want Timestamp
	}{
		{
			name: "epoch",
			in:   time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC),
			want: 0,
		}, {
			name: "before epoch",
			in:   time.Date(1899, time.December, 31, 0, 0, 0, 0, time.UTC),
			want: 0,
		}, {
			name: "unix epoch",
			in:   time.Unix(0, 0),
			// 70 years including 17 leap days.
			want: Timestamp((70*365 + 17) * 24 * 3600 * 1000),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got := TimestampFromTime(test.in)
			if got != test.want {
				t.Fatalf("Got %d, want %d", got, test.want)
			}
		})
	}

	now := time.Now().Truncate(time.Millisecond)
	if got := TimestampFromTime(now).Time(); !got.Equal(now) {
		t.Fatalf("Got %v, want %v", got, now)
	}
}
