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
	"strconv"

	"github.com/urfave/cli/v2"

	rpa "github.com/rpatools/go-rpa"
)

func parseFamily(s string) (rpa.Family, error) {
	switch s {
	case "1", "1.0":
		return rpa.Family1, nil
	case "2", "2.0":
		return rpa.Family2, nil
	case "3", "3.0":
		return rpa.Family3, nil
	case "3.2":
		return rpa.Family3Dot2, nil
	case "4", "4.0":
		return rpa.Family4, nil
	default:
		return 0, fmt.Errorf("%w: unrecognised --version %q", ErrFlagParse, s)
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a new archive from one or more files or directories",
		ArgsUsage: "<dest> <input>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "version", Usage: "header family: 1, 2, 3, 3.2, or 4", Value: "3"},
			&cli.StringFlag{Name: "key", Usage: "hex XOR key override (families 3/4 only)"},
			&cli.IntFlag{Name: "pickle-proto", Usage: "pickle protocol override (0 = family default)"},
			&cli.BoolFlag{Name: "marker", Usage: "write marker padding before each payload"},
			&cli.BoolFlag{Name: "include-hidden", Usage: "include dotfile entries when packaging a directory"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing destination file"},
			&cli.BoolFlag{Name: "index-only", Usage: "write only the compressed index bytes to dest, for debugging"},
		},
		Action: func(c *cli.Context) error {
			dest := c.Args().Get(0)
			if dest == "" || c.Args().Len() < 2 {
				return fmt.Errorf("%w: dest and at least one input are required", ErrFlagParse)
			}

			var inputs []rpa.InputFile
			for _, root := range c.Args().Slice()[1:] {
				found, err := rpa.EnumerateInputs(root, c.Bool("include-hidden"))
				if err != nil {
					return err
				}
				inputs = append(inputs, found...)
			}

			family, err := parseFamily(c.String("version"))
			if err != nil {
				return err
			}

			if c.Bool("index-only") {
				return writeIndexOnly(c, inputs)
			}

			var key *uint32
			if k := c.String("key"); k != "" {
				v, err := strconv.ParseUint(k, 16, 32)
				if err != nil {
					return fmt.Errorf("%w: --key: %w", ErrFlagParse, err)
				}
				kv := uint32(v)
				key = &kv
			}

			opts := rpa.WriteOptions{
				Version:        family,
				Key:            key,
				PickleProtocol: c.Int("pickle-proto"),
				Marker:         c.Bool("marker"),
				IncludeHidden:  c.Bool("include-hidden"),
				Force:          c.Bool("force"),
			}
			if err := rpa.WriteArchive(dest, inputs, opts); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %s (%d member(s))\n", dest, len(inputs))
			return nil
		},
	}
}

// writeIndexOnly serializes inputs' would-be sequential layout into a
// compressed index and writes it directly to dest, skipping header and
// payload emission entirely (a debugging aid; see rpa.WriteIndexOnly).
func writeIndexOnly(c *cli.Context, inputs []rpa.InputFile) error {
	dest := c.Args().Get(0)
	entries := make([]rpa.WriteEntry, 0, len(inputs))
	var cursor uint64
	for _, in := range inputs {
		info, err := os.Stat(in.SourcePath)
		if err != nil {
			return fmt.Errorf("%w: stat %s: %w", rpa.ErrIO, in.SourcePath, err)
		}
		length := uint64(info.Size())
		entries = append(entries, rpa.WriteEntry{Path: in.Path, Offset: cursor, Length: length})
		cursor += length
	}
	compressed, err := rpa.WriteIndexOnly(entries, nil, rpa.DefaultPickleProtocol2)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, compressed, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %w", rpa.ErrIO, dest, err)
	}
	fmt.Fprintf(c.App.Writer, "wrote index-only bytes for %d member(s) to %s\n", len(entries), dest)
	return nil
}
