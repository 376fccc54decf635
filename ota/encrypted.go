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
	"encoding/binary"
	"fmt"

	"github.com/transparency-dev/armored-witness-ota/secretstream"
	"k8s.io/klog/v2"
)

type envelopeState int

const (
	envelopeHeader envelopeState = iota
	envelopeChunkSize
	envelopeChunk
	envelopeNone
)

// EncryptedStream unwraps an encrypted upgrade file and passes the plaintext
// on to a BasicStream.
//
// The envelope is a secretstream header followed by chunks, each prefixed
// with its ciphertext length minus one as a little-endian uint16. Failures
// are latched in the wrapped BasicStream.
type EncryptedStream struct {
	basic *BasicStream
	key   []byte
	dec   *secretstream.Decryptor

	state   envelopeState
	header  [secretstream.HeaderSize]byte
	sizeBuf [2]byte
	// chunk only ever grows; its length is the size of the current chunk.
	chunk  []byte
	cursor int
}

// NewEncryptedStream returns a stream which decrypts with key and writes the
// plaintext to basic. The stream keeps its own copy of key until the
// envelope header has been received.
func NewEncryptedStream(key []byte, basic *BasicStream) (*EncryptedStream, error) {
	if len(key) != secretstream.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", secretstream.KeySize, len(key))
	}
	return &EncryptedStream{
		basic: basic,
		key:   append([]byte(nil), key...),
		state: envelopeHeader,
	}, nil
}

// Write feeds the next part of the encrypted upgrade file into the stream.
// It behaves like BasicStream.Write.
func (e *EncryptedStream) Write(p []byte) (int, error) {
	total := len(p)
	for !e.basic.HasError() && len(p) > 0 {
		switch e.state {
		case envelopeHeader:
			if p = e.fill(e.header[:], p); e.cursor == len(e.header) {
				e.initDecryptor()
			}
		case envelopeChunkSize:
			if p = e.fill(e.sizeBuf[:], p); e.cursor == len(e.sizeBuf) {
				e.startChunk(int(binary.LittleEndian.Uint16(e.sizeBuf[:])) + 1)
			}
		case envelopeChunk:
			if p = e.fill(e.chunk, p); e.cursor == len(e.chunk) {
				e.decryptChunk()
			}
		case envelopeNone:
			e.basic.fail(InvalidFormat, fmt.Errorf("%d byte(s) after final envelope chunk", len(p)))
		default:
			e.basic.fail(Internal, fmt.Errorf("unexpected envelope state %d", e.state))
		}
	}
	return total - len(p), e.basic.Err()
}

// State returns the state of the wrapped BasicStream.
func (e *EncryptedStream) State() State         { return e.basic.State() }
func (e *EncryptedStream) HasError() bool       { return e.basic.HasError() }
func (e *EncryptedStream) ErrorCode() ErrorCode { return e.basic.ErrorCode() }
func (e *EncryptedStream) Err() error           { return e.basic.Err() }
func (e *EncryptedStream) Complete() bool       { return e.basic.Complete() }
func (e *EncryptedStream) Slot() Slot           { return e.basic.Slot() }

// fill copies from p into dst at the cursor and returns what is left of p.
func (e *EncryptedStream) fill(dst, p []byte) []byte {
	n := copy(dst[e.cursor:], p)
	e.cursor += n
	return p[n:]
}

func (e *EncryptedStream) initDecryptor() {
	dec, err := secretstream.NewDecryptor(e.key, e.header[:])
	clear(e.key)
	e.key = nil
	if err != nil {
		e.basic.fail(DecryptionFailed, err)
		return
	}
	e.dec = dec
	e.state = envelopeChunkSize
	e.cursor = 0
}

func (e *EncryptedStream) startChunk(n int) {
	if cap(e.chunk) < n {
		klog.V(2).Infof("Growing envelope chunk buffer to %d bytes", n)
		e.chunk = make([]byte, n)
	}
	e.chunk = e.chunk[:n]
	e.state = envelopeChunk
	e.cursor = 0
}

func (e *EncryptedStream) decryptChunk() {
	m, tag, err := e.dec.Pull(e.chunk)
	if err != nil {
		e.basic.fail(DecryptionFailed, err)
		return
	}
	e.cursor = 0
	if tag == secretstream.TagFinal {
		e.state = envelopeNone
	} else {
		e.state = envelopeChunkSize
	}
	// Errors are latched by the basic stream.
	e.basic.Write(m)
}
