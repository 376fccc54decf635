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
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/md5"
	"crypto/sha512"
	"hash"

	"github.com/transparency-dev/armored-witness-ota/otafile"
	"k8s.io/klog/v2"
)

// Verifier checks the trailer of an upgrade file against every byte which
// precedes it.
//
// Bytes are fed in through Write, which never fails.
type Verifier interface {
	Write(p []byte) (int, error)
	// Magic is the container magic value this verifier accepts.
	Magic() uint32
	// TrailerSize is the length of the verification data.
	TrailerSize() int
	// Verify reports whether trailer matches the data written so far.
	Verify(trailer []byte) bool
}

// ChecksumVerifier verifies an MD5 checksum trailer.
type ChecksumVerifier struct {
	h hash.Hash
}

// NewChecksumVerifier returns a verifier for checksum-only containers.
func NewChecksumVerifier() *ChecksumVerifier {
	return &ChecksumVerifier{h: md5.New()}
}

func (v *ChecksumVerifier) Write(p []byte) (int, error) { return v.h.Write(p) }
func (v *ChecksumVerifier) Magic() uint32               { return otafile.MagicChecksum }
func (v *ChecksumVerifier) TrailerSize() int            { return otafile.ChecksumSize }

// Verify compares the digest with trailer. The checksum only guards against
// corruption, so the comparison need not be constant time.
func (v *ChecksumVerifier) Verify(trailer []byte) bool {
	sum := v.h.Sum(nil)
	ok := bytes.Equal(sum, trailer)
	if !ok {
		klog.V(1).Infof("Checksum mismatch: got %x, want %x", sum, trailer)
	}
	return ok
}

// SignatureVerifier verifies an Ed25519ph signature trailer against a pinned
// public key.
type SignatureVerifier struct {
	pub ed25519.PublicKey
	h   hash.Hash
}

// NewSignatureVerifier returns a verifier for signed containers. It panics if
// pub is not a valid Ed25519 public key length, as the key is a build time
// constant.
func NewSignatureVerifier(pub ed25519.PublicKey) *SignatureVerifier {
	if len(pub) != ed25519.PublicKeySize {
		panic("ota: bad Ed25519 public key length")
	}
	return &SignatureVerifier{pub: pub, h: sha512.New()}
}

func (v *SignatureVerifier) Write(p []byte) (int, error) { return v.h.Write(p) }
func (v *SignatureVerifier) Magic() uint32               { return otafile.MagicSigned }
func (v *SignatureVerifier) TrailerSize() int            { return otafile.SignatureSize }

// Verify checks trailer as an Ed25519ph signature over the data written so
// far.
func (v *SignatureVerifier) Verify(trailer []byte) bool {
	if len(trailer) != ed25519.SignatureSize {
		return false
	}
	digest := v.h.Sum(nil)
	if err := ed25519.VerifyWithOptions(v.pub, digest, trailer, &ed25519.Options{Hash: crypto.SHA512}); err != nil {
		klog.V(1).Infof("Signature verification failed: %v", err)
		return false
	}
	return true
}
