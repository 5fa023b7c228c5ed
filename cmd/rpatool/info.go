// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
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
	"strings"

	"github.com/urfave/cli/v2"

	rpa "github.com/rpatools/go-rpa"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "classify an already-extracted compiled-script file",
		ArgsUsage: "<script-file>",
		Action: func(c *cli.Context) error {
			path := c.Args().Get(0)
			if path == "" {
				return fmt.Errorf("%w: script file path is required", ErrFlagParse)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%w: reading %s: %w", rpa.ErrIO, path, err)
			}

			cl := rpa.Classify(data)
			fmt.Fprintf(c.App.Writer, "format:          %s\n", cl.Format)
			fmt.Fprintf(c.App.Writer, "label:           %s\n", cl.Label)
			fmt.Fprintf(c.App.Writer, "confidence:      %s\n", cl.Confidence)
			if cl.PythonMajor != 0 {
				fmt.Fprintf(c.App.Writer, "python major:    %d\n", cl.PythonMajor)
			}
			if cl.RenpyMajor != 0 {
				fmt.Fprintf(c.App.Writer, "ren'py major:    %d\n", cl.RenpyMajor)
			}
			if cl.PickleProtocol != 0 {
				fmt.Fprintf(c.App.Writer, "pickle protocol: %d\n", cl.PickleProtocol)
			}
			if cl.ScriptVersion != 0 {
				fmt.Fprintf(c.App.Writer, "script version:  %d\n", cl.ScriptVersion)
			}
			fmt.Fprintf(c.App.Writer, "has init offset: %v\n", cl.HasInitOffset)
			if len(cl.Notes) > 0 {
				fmt.Fprintf(c.App.Writer, "notes:           %s\n", strings.Join(cl.Notes, "; "))
			}
			return nil
		},
	}
}
