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

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/transparency-dev/armored-witness-ota/keys"
	"github.com/transparency-dev/armored-witness-ota/otafile"
	"k8s.io/klog/v2"
)

func init() {
	const (
		short = "Create an OTA upgrade file"
		long  = "Packs one or more ROM images into an upgrade file, optionally signed and encrypted."
	)

	if _, err := parser.AddCommand("mkfile", short, long, &cmdMkfile{}); err != nil {
		panic(err)
	}
}

type cmdMkfile struct {
	Output    string   `short:"o" long:"output" required:"yes" description:"Upgrade file to write"`
	Roms      []string `long:"rom" required:"yes" value-name:"FILE@ADDRESS" description:"ROM image and the flash address it was linked for, may be repeated"`
	Sign      string   `long:"sign" value-name:"KEY.sec" description:"Sign with this signer key instead of appending a checksum"`
	Encrypt   string   `long:"encrypt" value-name:"KEY.key" description:"Encrypt with this envelope key"`
	Timestamp string   `long:"timestamp" description:"Build time in RFC3339 format (default now)"`
	ChunkSize int      `long:"chunk-size" default:"2048" description:"Encrypted chunk size in bytes"`
}

func (c *cmdMkfile) Execute(args []string) error {
	b := otafile.Builder{Timestamp: otafile.TimestampFromTime(time.Now())}
	if c.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, c.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid --timestamp: %v", err)
		}
		b.Timestamp = otafile.TimestampFromTime(t)
	}
	if c.Sign != "" {
		s, err := os.ReadFile(c.Sign)
		if err != nil {
			return err
		}
		if b.Signer, err = keys.ParseSignerKey(string(s)); err != nil {
			return err
		}
	}

	roms := make([]otafile.Rom, 0, len(c.Roms))
	for _, spec := range c.Roms {
		r, err := loadRom(spec)
		if err != nil {
			return err
		}
		klog.Infof("Adding ROM %q for 0x%08x (%s)", spec, r.Address, humanize.IBytes(uint64(len(r.Data))))
		roms = append(roms, r)
	}

	out, err := b.Build(roms)
	if err != nil {
		return err
	}
	if c.Encrypt != "" {
		k, err := os.ReadFile(c.Encrypt)
		if err != nil {
			return err
		}
		key, err := keys.ParseEncryptionKey(string(k))
		if err != nil {
			return err
		}
		if out, err = otafile.Encrypt(out, key, c.ChunkSize); err != nil {
			return err
		}
	}

	if err := os.WriteFile(c.Output, out, 0o644); err != nil {
		return err
	}
	klog.Infof("Wrote %s upgrade file %q, build timestamp %v", humanize.IBytes(uint64(len(out))), c.Output, b.Timestamp)
	return nil
}

// loadRom reads a ROM given as FILE@ADDRESS. The address may be decimal,
// or hex with a 0x prefix.
func loadRom(spec string) (otafile.Rom, error) {
	i := strings.LastIndex(spec, "@")
	if i < 0 {
		return otafile.Rom{}, fmt.Errorf("ROM %q: want FILE@ADDRESS", spec)
	}
	addr, err := strconv.ParseUint(spec[i+1:], 0, 32)
	if err != nil {
		return otafile.Rom{}, fmt.Errorf("ROM %q: invalid address: %v", spec, err)
	}
	data, err := os.ReadFile(spec[:i])
	if err != nil {
		return otafile.Rom{}, err
	}
	return otafile.Rom{Address: uint32(addr), Data: data}, nil
}
