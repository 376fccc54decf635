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

// The otatool command creates and inspects OTA upgrade files, and applies
// them to a simulated flash device for development work.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/jessevdk/go-flags"
	"k8s.io/klog/v2"
)

type globalOptions struct {
	Verbosity int `short:"v" long:"verbosity" description:"Log verbosity level"`
}

var (
	opts   globalOptions
	parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
)

func main() {
	klog.InitFlags(nil)
	parser.CommandHandler = func(c flags.Commander, args []string) error {
		if err := flag.Set("v", strconv.Itoa(opts.Verbosity)); err != nil {
			return err
		}
		return c.Execute(args)
	}

	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return
		}
		klog.Exitf("%v", err)
	}
	klog.Flush()
}
