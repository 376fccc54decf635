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

// Package secretstream implements the XChaCha20-Poly1305 secret stream
// construction, wire compatible with libsodium's
// crypto_secretstream_xchacha20poly1305 API.
//
// A stream starts with a HeaderSize byte header, followed by messages of
// len(plaintext)+ABytes bytes each. Every message carries an encrypted tag;
// TagFinal marks the end of the stream.
package secretstream

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

const (
	// KeySize is the size of a stream key.
	KeySize = chacha20.KeySize
	// HeaderSize is the size of the stream header.
	HeaderSize = 24
	// ABytes is the per-message overhead: one tag byte and a 16 byte MAC.
	ABytes = 1 + poly1305.TagSize

	counterBytes = 4
	inonceBytes  = 8
	blockSize    = 64
)

// Message tags.
const (
	TagMessage byte = 0x00
	TagPush    byte = 0x01
	TagRekey   byte = 0x02
	TagFinal   byte = TagPush | TagRekey
)

// ErrAuthentication is returned when a message fails authentication.
var ErrAuthentication = errors.New("secretstream: message authentication failed")

// state is shared by both stream directions.
type state struct {
	k     [KeySize]byte
	nonce [chacha20.NonceSize]byte
}

func newState(key, header []byte) (*state, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secretstream: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("secretstream: header must be %d bytes, got %d", HeaderSize, len(header))
	}
	subkey, err := chacha20.HChaCha20(key, header[:16])
	if err != nil {
		return nil, err
	}
	s := &state{}
	copy(s.k[:], subkey)
	clear(subkey)
	s.resetCounter()
	copy(s.nonce[counterBytes:], header[16:])
	return s, nil
}

func (s *state) resetCounter() {
	clear(s.nonce[:counterBytes])
	s.nonce[0] = 1
}

func (s *state) rekey() {
	var buf [KeySize + inonceBytes]byte
	copy(buf[:KeySize], s.k[:])
	copy(buf[KeySize:], s.nonce[counterBytes:])
	c, _ := chacha20.NewUnauthenticatedCipher(s.k[:], s.nonce[:])
	c.XORKeyStream(buf[:], buf[:])
	copy(s.k[:], buf[:KeySize])
	copy(s.nonce[counterBytes:], buf[KeySize:])
	clear(buf[:])
	s.resetCounter()
}

// advance folds the MAC into the nonce and steps the counter, rekeying when
// requested by the tag or when the counter wraps.
func (s *state) advance(mac []byte, tag byte) {
	for i := 0; i < inonceBytes; i++ {
		s.nonce[counterBytes+i] ^= mac[i]
	}
	ctr := binary.LittleEndian.Uint32(s.nonce[:counterBytes]) + 1
	binary.LittleEndian.PutUint32(s.nonce[:counterBytes], ctr)
	if tag&TagRekey != 0 || ctr == 0 {
		s.rekey()
	}
}

// authenticate computes the Poly1305 MAC over the encrypted tag block and
// the ciphertext. The one-time key is the first half of keystream block 0.
func authenticate(keyBlock, block *[blockSize]byte, ct []byte) [poly1305.TagSize]byte {
	var key [32]byte
	copy(key[:], keyBlock[:32])
	m := poly1305.New(&key)
	clear(key[:])

	// No additional data is ever authenticated, so its padding is empty.
	m.Write(block[:])
	m.Write(ct)
	// libsodium pads the ciphertext by its length modulo 16 rather than up
	// to the next block boundary.
	var pad [16]byte
	m.Write(pad[:(0x10-blockSize+len(ct))&0xf])
	var lens [16]byte
	binary.LittleEndian.PutUint64(lens[0:8], 0)
	binary.LittleEndian.PutUint64(lens[8:16], uint64(blockSize+len(ct)))
	m.Write(lens[:])

	var out [poly1305.TagSize]byte
	m.Sum(out[:0])
	return out
}

// Encryptor produces a secret stream.
type Encryptor struct {
	s *state
}

// NewEncryptor starts a new stream keyed with key and returns the header
// which must be sent ahead of the first message.
func NewEncryptor(key []byte) (*Encryptor, []byte, error) {
	return newEncryptor(rand.Reader, key)
}

func newEncryptor(rnd io.Reader, key []byte) (*Encryptor, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(rnd, header); err != nil {
		return nil, nil, fmt.Errorf("secretstream: failed to generate header: %v", err)
	}
	s, err := newState(key, header)
	if err != nil {
		return nil, nil, err
	}
	return &Encryptor{s: s}, header, nil
}

// Push encrypts m and returns the resulting message of len(m)+ABytes bytes.
func (e *Encryptor) Push(m []byte, tag byte) []byte {
	out := make([]byte, 1+len(m)+poly1305.TagSize)

	c, _ := chacha20.NewUnauthenticatedCipher(e.s.k[:], e.s.nonce[:])
	// The MAC key comes from block 0; consume it before encrypting.
	var polyBlock [blockSize]byte
	c.XORKeyStream(polyBlock[:], polyBlock[:])

	var block [blockSize]byte
	block[0] = tag
	c.SetCounter(1)
	c.XORKeyStream(block[:], block[:])
	out[0] = block[0]

	ct := out[1 : 1+len(m)]
	c.SetCounter(2)
	c.XORKeyStream(ct, m)

	mac := authenticate(&polyBlock, &block, ct)
	clear(polyBlock[:])
	copy(out[1+len(m):], mac[:])
	e.s.advance(mac[:], tag)
	return out
}

// Decryptor consumes a secret stream.
type Decryptor struct {
	s *state
}

// NewDecryptor prepares to read the stream introduced by header.
func NewDecryptor(key, header []byte) (*Decryptor, error) {
	s, err := newState(key, header)
	if err != nil {
		return nil, err
	}
	return &Decryptor{s: s}, nil
}

// Pull authenticates and decrypts a single message, returning the plaintext
// and its tag. No plaintext is returned if authentication fails, and the
// stream state is left untouched.
func (d *Decryptor) Pull(in []byte) ([]byte, byte, error) {
	if len(in) < ABytes {
		return nil, 0, ErrAuthentication
	}
	mlen := len(in) - ABytes

	c, _ := chacha20.NewUnauthenticatedCipher(d.s.k[:], d.s.nonce[:])
	var polyBlock [blockSize]byte
	c.XORKeyStream(polyBlock[:], polyBlock[:])

	var block [blockSize]byte
	block[0] = in[0]
	c.SetCounter(1)
	c.XORKeyStream(block[:], block[:])
	tag := block[0]
	block[0] = in[0]

	ct := in[1 : 1+mlen]
	mac := authenticate(&polyBlock, &block, ct)
	clear(polyBlock[:])
	if subtle.ConstantTimeCompare(mac[:], in[1+mlen:]) != 1 {
		return nil, 0, ErrAuthentication
	}

	m := make([]byte, mlen)
	c.SetCounter(2)
	c.XORKeyStream(m, ct)
	d.s.advance(mac[:], tag)
	return m, tag, nil
}
