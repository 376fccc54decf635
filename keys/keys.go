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

// Package keys handles the keys pinned into firmware builds for OTA
// upgrades.
//
// Signing keys use the note key encoding from golang.org/x/mod/sumdb/note,
// so the verifier string compiled into a firmware image is the same one
// used everywhere else to describe an Ed25519 public key:
//
//	<name>+<hash>+<base64(0x01 || public key)>
//
// Envelope encryption keys are 32 random bytes, stored hex encoded.
package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/transparency-dev/armored-witness-ota/secretstream"
	"golang.org/x/mod/sumdb/note"
)

// algEd25519 is the note algorithm identifier for Ed25519 keys.
const algEd25519 = 1

// Set holds a freshly generated set of OTA keys.
type Set struct {
	// Signer is the note signer key used to sign upgrade files.
	Signer string
	// Verifier is the note verifier key pinned into firmware builds.
	Verifier string
	// Encryption is the envelope key shared between build and device.
	Encryption []byte
}

// Generate creates a new signing key pair named name and a new envelope key.
func Generate(rand io.Reader, name string) (Set, error) {
	skey, vkey, err := note.GenerateKey(rand, name)
	if err != nil {
		return Set{}, fmt.Errorf("failed to generate signing key: %v", err)
	}
	ek := make([]byte, secretstream.KeySize)
	if _, err := io.ReadFull(rand, ek); err != nil {
		return Set{}, fmt.Errorf("failed to generate encryption key: %v", err)
	}
	return Set{Signer: skey, Verifier: vkey, Encryption: ek}, nil
}

// ParseVerifierKey returns the Ed25519 public key held in a note verifier key.
func ParseVerifierKey(vkey string) (ed25519.PublicKey, error) {
	vkey = strings.TrimSpace(vkey)
	if _, err := note.NewVerifier(vkey); err != nil {
		return nil, fmt.Errorf("invalid verifier key: %v", err)
	}
	// name+hash+key; NewVerifier has already checked the shape.
	parts := strings.SplitN(vkey, "+", 3)
	k, err := decodeKey(parts[2], ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(k), nil
}

// ParseSignerKey returns the Ed25519 private key held in a note signer key.
func ParseSignerKey(skey string) (ed25519.PrivateKey, error) {
	skey = strings.TrimSpace(skey)
	if _, err := note.NewSigner(skey); err != nil {
		return nil, fmt.Errorf("invalid signer key: %v", err)
	}
	// PRIVATE+KEY+name+hash+key
	parts := strings.SplitN(skey, "+", 5)
	seed, err := decodeKey(parts[4], ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// VerifierKey returns the note verifier key for the public half of k.
func VerifierKey(name string, k ed25519.PrivateKey) (string, error) {
	return note.NewEd25519VerifierKey(name, k.Public().(ed25519.PublicKey))
}

// ParseEncryptionKey decodes a hex encoded envelope key.
func ParseEncryptionKey(s string) ([]byte, error) {
	k, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %v", err)
	}
	if len(k) != secretstream.KeySize {
		return nil, fmt.Errorf("invalid encryption key: want %d bytes, got %d", secretstream.KeySize, len(k))
	}
	return k, nil
}

func decodeKey(enc string, size int) ([]byte, error) {
	k, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %v", err)
	}
	if len(k) != 1+size {
		return nil, fmt.Errorf("invalid key length %d, want %d", len(k), 1+size)
	}
	if k[0] != algEd25519 {
		return nil, fmt.Errorf("unsupported key algorithm %d", k[0])
	}
	return k[1:], nil
}
