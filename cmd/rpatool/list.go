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

	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"

	rpa "github.com/rpatools/go-rpa"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list the members of an archive",
		ArgsUsage: "<archive>",
		Action: func(c *cli.Context) error {
			archivePath := c.Args().Get(0)
			if archivePath == "" {
				return fmt.Errorf("%w: archive path is required", ErrFlagParse)
			}

			r := rpa.Open(archivePath)
			hdr, err := r.ReadHeader()
			if err != nil {
				return err
			}
			idx, err := r.ReadIndex()
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "family: %s  members: %d\n", hdr.Family, idx.Len())

			tbl := table.New("path", "offset", "length", "prefix bytes")
			for _, p := range idx.Paths() {
				entry, _ := idx.Lookup(p)
				tbl.AddRow(p, entry.Offset, entry.Length, len(entry.Prefix))
			}
			tbl.Print()
			return nil
		},
	}
}
