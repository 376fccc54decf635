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
	"errors"
	"fmt"
	"io"

	"github.com/transparency-dev/armored-witness-ota/otafile"
	"k8s.io/klog/v2"
)

// State is the position of a BasicStream within the upgrade file.
type State int

const (
	StateError State = iota
	StateHeader
	StateRomHeader
	StateSkipRom
	StateWriteRom
	StateVerifyRoms
	StateRomsComplete
)

func (s State) String() string {
	switch s {
	case StateError:
		return "Error"
	case StateHeader:
		return "Header"
	case StateRomHeader:
		return "RomHeader"
	case StateSkipRom:
		return "SkipRom"
	case StateWriteRom:
		return "WriteRom"
	case StateVerifyRoms:
		return "VerifyRoms"
	case StateRomsComplete:
		return "RomsComplete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// BasicStream applies a plaintext upgrade file to the inactive boot slot.
type BasicStream struct {
	flash    Flash
	boot     BootStore
	verifier Verifier
	opts     options

	slot Slot

	state State
	code  ErrorCode
	err   error

	// Current chunk. dst, if set, receives the chunk bytes at cursor.
	remaining uint32
	dst       []byte
	cursor    int

	headerBuf [otafile.HeaderSize]byte
	header    otafile.Header
	romBuf    [otafile.RomHeaderSize]byte
	romHeader otafile.RomHeader
	romIndex  int
	trailer   []byte

	w io.WriteCloser
}

// NewBasicStream prepares to receive an upgrade file. The target slot is
// chosen here from the boot configuration held by boot.
func NewBasicStream(flash Flash, boot BootStore, v Verifier, opts ...Option) (*BasicStream, error) {
	s := &BasicStream{
		flash:    flash,
		boot:     boot,
		verifier: v,
		trailer:  make([]byte, v.TrailerSize()),
	}
	for _, o := range opts {
		o(&s.opts)
	}
	if !s.opts.allowDowngrade && !s.opts.haveTimestamp {
		return nil, errors.New("downgrade protection requires the running build timestamp")
	}

	cfg, err := boot.BootConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to read boot config: %v", err)
	}
	if s.slot, err = SelectSlot(cfg, s.opts.reservedRegions); err != nil {
		return nil, err
	}
	s.setupChunk(StateHeader, otafile.HeaderSize, s.headerBuf[:])
	return s, nil
}

// Write feeds the next part of the upgrade file into the stream.
//
// All of p is consumed unless the stream fails, in which case the latched
// error is returned along with the number of bytes consumed before the
// failure.
func (s *BasicStream) Write(p []byte) (int, error) {
	total := len(p)
	for !s.HasError() && len(p) > 0 {
		switch s.state {
		case StateHeader:
			if p = s.consume(p); s.remaining == 0 {
				s.processHeader()
			}
		case StateRomHeader:
			if p = s.consume(p); s.remaining == 0 {
				s.processRomHeader()
			}
		case StateWriteRom:
			n := min(uint32(len(p)), s.remaining)
			if _, err := s.w.Write(p[:n]); err != nil {
				s.fail(FlashWriteFailed, err)
				break
			}
			if p = s.consume(p); s.remaining == 0 {
				err := s.w.Close()
				s.w = nil
				if err != nil {
					s.fail(FlashWriteFailed, err)
					break
				}
				s.slot.Updated = true
				s.nextRom()
			}
		case StateSkipRom:
			if p = s.consume(p); s.remaining == 0 {
				s.nextRom()
			}
		case StateVerifyRoms:
			if p = s.consume(p); s.remaining == 0 {
				s.verifyRoms()
			}
		case StateRomsComplete:
			s.fail(UnsupportedData, fmt.Errorf("%d byte(s) after end of upgrade file", len(p)))
		default:
			s.fail(Internal, fmt.Errorf("unexpected state %v", s.state))
		}
	}
	return total - len(p), s.err
}

// State returns the current state.
func (s *BasicStream) State() State { return s.state }

// HasError reports whether the stream has failed.
func (s *BasicStream) HasError() bool { return s.state == StateError }

// ErrorCode returns the latched error code, or NoError.
func (s *BasicStream) ErrorCode() ErrorCode { return s.code }

// Err returns the latched error with any detail available, or nil.
func (s *BasicStream) Err() error { return s.err }

// Complete reports whether the whole file has been received and verified.
func (s *BasicStream) Complete() bool { return s.state == StateRomsComplete }

// Slot returns the target slot.
func (s *BasicStream) Slot() Slot { return s.slot }

func (s *BasicStream) setupChunk(st State, size uint32, dst []byte) {
	s.state = st
	s.remaining = size
	s.dst = dst
	s.cursor = 0
}

// consume takes as much of p as the current chunk still needs and returns
// the rest.
func (s *BasicStream) consume(p []byte) []byte {
	n := min(uint32(len(p)), s.remaining)
	if s.state != StateVerifyRoms {
		s.verifier.Write(p[:n])
	}
	if s.dst != nil {
		s.cursor += copy(s.dst[s.cursor:], p[:n])
	}
	s.remaining -= n
	if s.remaining == 0 {
		s.dst = nil
	}
	return p[n:]
}

func (s *BasicStream) fail(code ErrorCode, cause error) {
	if code == NoError {
		panic("ota: fail called with NoError")
	}
	s.code = code
	if cause != nil {
		s.err = fmt.Errorf("%w: %v", code, cause)
	} else {
		s.err = code
	}
	s.state = StateError
	if s.w != nil {
		s.w.Close()
		s.w = nil
	}
	klog.Errorf("Upgrade failed: %v", s.err)
}

func (s *BasicStream) processHeader() {
	if err := s.header.UnmarshalBinary(s.headerBuf[:]); err != nil {
		s.fail(Internal, err)
		return
	}
	h := s.header
	if h.Magic != s.verifier.Magic() {
		s.fail(InvalidFormat, fmt.Errorf("magic 0x%08x, want 0x%08x", h.Magic, s.verifier.Magic()))
		return
	}
	if h.Reserved != [3]byte{} {
		klog.V(1).Infof("Ignoring non-zero reserved header bytes %x", h.Reserved)
	}
	if !s.opts.allowDowngrade {
		klog.Infof("Build timestamp of current firmware: %v", s.opts.buildTimestamp)
		klog.Infof("Build timestamp of upgrade file: %v", h.BuildTimestamp)
		if h.BuildTimestamp < s.opts.buildTimestamp {
			s.fail(DowngradeNotAllowed, nil)
			return
		}
	}
	klog.Infof("Starting firmware upgrade, receiving %d image(s)", h.RomCount)
	s.nextRom()
}

func (s *BasicStream) nextRom() {
	if s.romIndex < int(s.header.RomCount) {
		s.romIndex++
		s.setupChunk(StateRomHeader, otafile.RomHeaderSize, s.romBuf[:])
		return
	}
	s.setupChunk(StateVerifyRoms, uint32(len(s.trailer)), s.trailer)
}

func (s *BasicStream) processRomHeader() {
	if err := s.romHeader.UnmarshalBinary(s.romBuf[:]); err != nil {
		s.fail(Internal, err)
		return
	}
	r := s.romHeader
	if !s.slot.Updated && s.slot.matches(r.Address) {
		if r.Size > s.slot.Size {
			s.fail(RomTooLarge, fmt.Errorf("%d bytes, slot %d holds %d", r.Size, s.slot.Index, s.slot.Size))
			return
		}
		klog.Infof("Update slot %d [0x%08x..0x%08x)", s.slot.Index, s.slot.Address, s.slot.Address+r.Size)
		w, err := s.flash.BeginWrite(s.slot.Address)
		if err != nil {
			s.fail(FlashWriteFailed, err)
			return
		}
		s.w = w
		s.setupChunk(StateWriteRom, r.Size, nil)
		return
	}
	klog.Infof("Skip ROM image for [0x%08x..0x%08x)", r.Address, r.Address+r.Size)
	s.setupChunk(StateSkipRom, r.Size, nil)
}

func (s *BasicStream) verifyRoms() {
	s.state = StateRomsComplete
	klog.V(2).Infof("Trailer: %x", s.trailer)

	if !s.verifier.Verify(s.trailer) {
		if s.slot.Updated {
			// Never leave a bootable image behind which failed verification.
			if err := s.flash.EraseSector(s.slot.Address); err != nil {
				klog.Errorf("Failed to erase start of slot %d: %v", s.slot.Index, err)
			}
		}
		s.fail(VerificationFailed, nil)
		return
	}

	if s.header.RomCount == 0 {
		klog.Infof("Upgrade file verified, no ROM images")
		return
	}
	if !s.slot.Updated {
		s.fail(NoRomFound, nil)
		return
	}
	if err := s.boot.Activate(s.slot.Index); err != nil {
		s.fail(RomActivationFailed, err)
		return
	}
	klog.Infof("ROM update complete, slot %d activated", s.slot.Index)
}
