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

	"github.com/urfave/cli/v2"

	rpa "github.com/rpatools/go-rpa"
)

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "extract every member of an archive to a destination directory",
		ArgsUsage: "<archive> [dest]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "classify",
				Usage: "classify extracted .rpyc/.rpymc members",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "number of concurrent extraction workers (1 runs single-threaded)",
				Value: 1,
			},
		},
		Action: func(c *cli.Context) error {
			archivePath := c.Args().Get(0)
			if archivePath == "" {
				return fmt.Errorf("%w: archive path is required", ErrFlagParse)
			}
			destDir := c.Args().Get(1)
			if destDir == "" {
				destDir = "."
			}

			r := rpa.Open(archivePath)
			opts := rpa.ExtractOptions{ClassifyScripts: c.Bool("classify")}

			lastStage := ""
			onProgress := func(ev rpa.ProgressEvent) {
				if ev.Stage == lastStage {
					return
				}
				lastStage = ev.Stage
				fmt.Fprintf(c.App.Writer, "%s: starting (%d total)\n", ev.Stage, ev.Total)
			}

			workers := c.Int("workers")
			var summary *rpa.ExtractSummary
			var err error
			if workers > 1 {
				summary, err = r.ExtractAllConcurrent(destDir, workers, onProgress, opts)
			} else {
				summary, err = r.ExtractAll(destDir, onProgress, opts)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "extracted %d member(s)", summary.Extracted)
			if summary.DecompileErrors > 0 {
				fmt.Fprintf(c.App.Writer, ", %d decompile error(s)", summary.DecompileErrors)
			}
			fmt.Fprintln(c.App.Writer)
			for path, cl := range summary.Classifications {
				fmt.Fprintf(c.App.Writer, "  %s: %s (%s, confidence=%s)\n", path, cl.Label, cl.Format, cl.Confidence)
			}
			return nil
		},
	}
}
