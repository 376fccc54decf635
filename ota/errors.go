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

import "fmt"

// ErrorCode classifies the reason an upgrade stream failed.
//
// ErrorCode implements error, so a latched code can be tested for with
// errors.Is.
type ErrorCode int

const (
	NoError ErrorCode = iota
	// InvalidFormat is returned for unrecognised or malformed input.
	InvalidFormat
	// UnsupportedData is returned for well formed input which cannot be
	// handled, such as data following a complete upgrade file.
	UnsupportedData
	// DecryptionFailed is returned when the encrypted envelope fails to
	// authenticate.
	DecryptionFailed
	// NoRomFound is returned when no ROM image matched the target slot.
	NoRomFound
	// RomTooLarge is returned when the matching ROM image does not fit the
	// target slot.
	RomTooLarge
	// DowngradeNotAllowed is returned for upgrades built before the running
	// firmware.
	DowngradeNotAllowed
	// VerificationFailed is returned on checksum or signature mismatch.
	VerificationFailed
	FlashWriteFailed
	RomActivationFailed
	OutOfMemory
	// Internal indicates a bug.
	Internal
)

var errorStrings = map[ErrorCode]string{
	NoError:             "no error",
	InvalidFormat:       "invalid or unrecognized upgrade image format",
	UnsupportedData:     "upgrade image contains unsupported extended data",
	DecryptionFailed:    "decryption failed",
	NoRomFound:          "no suitable ROM image found",
	RomTooLarge:         "ROM image too large",
	DowngradeNotAllowed: "downgrade not allowed",
	VerificationFailed:  "signature or checksum verification failed",
	FlashWriteFailed:    "error while writing flash memory",
	RomActivationFailed: "could not activate updated ROM",
	OutOfMemory:         "out of memory",
	Internal:            "internal error",
}

func (c ErrorCode) String() string {
	if s, ok := errorStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error %d", int(c))
}

func (c ErrorCode) Error() string {
	return "ota: " + c.String()
}
