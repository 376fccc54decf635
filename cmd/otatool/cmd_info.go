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
	"bufio"
	"fmt"
	"os"

	"github.com/transparency-dev/armored-witness-ota/otafile"
)

func init() {
	const (
		short = "Describe an OTA upgrade file"
		long  = "Prints the header, ROM images and trailer of a plaintext upgrade file."
	)

	if _, err := parser.AddCommand("info", short, long, &cmdInfo{}); err != nil {
		panic(err)
	}
}

type cmdInfo struct {
	Positional struct {
		File string `positional-arg-name:"<file>" required:"yes"`
	} `positional-args:"yes"`
}

func (c *cmdInfo) Execute(args []string) error {
	f, err := os.Open(c.Positional.File)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := otafile.Inspect(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%s: %w", c.Positional.File, err)
	}
	fmt.Print(info.Print())
	return nil
}
