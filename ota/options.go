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

import "github.com/transparency-dev/armored-witness-ota/otafile"

type options struct {
	buildTimestamp  otafile.Timestamp
	haveTimestamp   bool
	allowDowngrade  bool
	reservedRegions []uint32
}

// Option configures a BasicStream.
type Option func(*options)

// WithBuildTimestamp sets the build timestamp of the running firmware. It is
// required unless WithDowngrade is given.
func WithBuildTimestamp(ts otafile.Timestamp) Option {
	return func(o *options) {
		o.buildTimestamp = ts
		o.haveTimestamp = true
	}
}

// WithDowngrade disables downgrade protection.
func WithDowngrade() Option {
	return func(o *options) {
		o.allowDowngrade = true
	}
}

// WithReservedRegions lists the start addresses of flash regions, such as
// filesystems, which an upgrade slot must not overlap.
func WithReservedRegions(addrs ...uint32) Option {
	return func(o *options) {
		o.reservedRegions = append(o.reservedRegions, addrs...)
	}
}
