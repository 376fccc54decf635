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

// Package ota processes firmware upgrade files as they arrive.
//
// A BasicStream accepts an upgrade container (see package otafile) in
// arbitrarily sized pieces through its Write method. ROM images matching the
// inactive boot slot are written straight to flash, everything is fed into a
// Verifier, and once the trailer checks out the slot is activated. An
// EncryptedStream may be placed in front of a BasicStream to unwrap an
// encrypted envelope first.
//
// Streams are not safe for concurrent use. Exactly one producer may call
// Write on a stream, sequentially, for the lifetime of a single upgrade
// attempt. There is no cancel operation: to abandon an upgrade, stop writing
// and discard the stream. Data already written to the inactive slot is left
// in place and is never booted.
//
// Errors are latched. Once a stream has failed, its ErrorCode is fixed and
// no further input is interpreted.
package ota
