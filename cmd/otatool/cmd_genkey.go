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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/transparency-dev/armored-witness-ota/keys"
	"k8s.io/klog/v2"
)

func init() {
	const (
		short = "Generate OTA keys"
		long  = "Writes a signer key (PREFIX.sec), its verifier key (PREFIX.pub) and an envelope encryption key (PREFIX.key). Existing files are never overwritten."
	)

	if _, err := parser.AddCommand("genkey", short, long, &cmdGenkey{}); err != nil {
		panic(err)
	}
}

type cmdGenkey struct {
	Name   string `long:"name" default:"ota" description:"Key name embedded in the signer and verifier keys"`
	Output string `short:"o" long:"output" required:"yes" value-name:"PREFIX" description:"Output file prefix"`
}

func (c *cmdGenkey) Execute(args []string) error {
	set, err := keys.Generate(rand.Reader, c.Name)
	if err != nil {
		return err
	}
	for _, f := range []struct {
		suffix string
		data   string
		mode   os.FileMode
	}{
		{".sec", set.Signer, 0o600},
		{".pub", set.Verifier, 0o644},
		{".key", hex.EncodeToString(set.Encryption), 0o600},
	} {
		p := c.Output + f.suffix
		if err := writeNew(p, []byte(f.data+"\n"), f.mode); err != nil {
			return err
		}
		klog.Infof("Wrote %s", p)
	}
	return nil
}

// writeNew writes data to a file which must not already exist.
func writeNew(p string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %q: %v", p, err)
	}
	return f.Close()
}
