// Copyright 2025 EngFlow Inc. All rights reserved.
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

// Package bazelquery drives the "bazel query"/"bazel cquery" subprocess and
// streams its --output=streamed_proto result into the buildpb decoder
// (spec §4.3). It never links against Bazel itself: the only contract with
// the binary on PATH is its streamed-proto wire format.
package bazelquery

import (
	"bytes"
	"context"
	"io"
	"log"
	"os/exec"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
	"github.com/bazel-contrib/bazel-diff-go/internal/buildpb"
)

// Driver configures how the bazel subprocess is invoked.
type Driver struct {
	// BazelPath is the executable to run; defaults to "bazel" on PATH.
	BazelPath string
	// WorkingDir is the workspace root the query runs from.
	WorkingDir string
	// CommandOptions are extra flags forwarded verbatim after the query
	// itself (--bazelCommandOptions, spec §6).
	CommandOptions []string
	// UseCquery selects "bazel cquery" over "bazel query" (spec §6
	// --useCquery), trading speed for configuration-aware attribute
	// values.
	UseCquery bool
	// KeepGoing passes --keep_going and tolerates Bazel's exit code 3
	// ("partial success": some targets failed to load but the rest of the
	// stream is still usable), per spec §4.3 "partial output handling".
	KeepGoing bool
}

func (d *Driver) bazelPath() string {
	if d.BazelPath == "" {
		return "bazel"
	}
	return d.BazelPath
}

// stderrTailLimit caps how much stderr the QueryFailed error embeds, so a
// runaway build log doesn't blow up an error message.
const stderrTailLimit = 4096

type tailWriter struct {
	buf bytes.Buffer
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.buf.Len() > stderrTailLimit {
		trimmed := w.buf.Bytes()[w.buf.Len()-stderrTailLimit:]
		w.buf.Reset()
		w.buf.Write(trimmed)
	}
	return len(p), nil
}

// Targets runs "bazel query <expr> --output=streamed_proto" (or cquery, if
// UseCquery is set) and returns a lazy sequence of decoded targets plus a
// Close that must be called once the sequence has been fully drained; Close
// reports the subprocess's final error, respecting KeepGoing.
func (d *Driver) Targets(ctx context.Context, query string) (func(yield func(*buildpb.Target, error) bool), func() error, error) {
	return d.run(ctx, "query", query)
}

// SourceFiles runs the same query command but scoped to a query expression
// that resolves to source-file leaves (spec §4.3's seed-hash query),
// typically `deps(...)` filtered through `kind("source file", ...)` by the
// caller.
func (d *Driver) SourceFiles(ctx context.Context, query string) (func(yield func(*buildpb.Target, error) bool), func() error, error) {
	return d.run(ctx, "query", query)
}

func (d *Driver) run(ctx context.Context, command, query string) (func(yield func(*buildpb.Target, error) bool), func() error, error) {
	if d.UseCquery {
		command = "cquery"
	}

	args := []string{command, query, "--output=streamed_proto"}
	if d.KeepGoing {
		args = append(args, "--keep_going")
	}
	args = append(args, d.CommandOptions...)

	cmd := exec.CommandContext(ctx, d.bazelPath(), args...)
	cmd.Dir = d.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, &bderrors.IoError{Path: "bazel stdout pipe", Err: err}
	}
	stderr := &tailWriter{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, &bderrors.QueryFailed{Args: cmd.Args, ExitCode: -1, StderrTail: err.Error()}
	}

	seq := buildpb.DecodeStream(io.Reader(stdout))

	closeFn := func() error {
		err := cmd.Wait()
		if err == nil {
			return nil
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return &bderrors.QueryFailed{Args: cmd.Args, ExitCode: -1, StderrTail: stderr.buf.String()}
		}
		exitCode := exitErr.ExitCode()
		if d.KeepGoing && exitCode == 3 {
			log.Printf("bazel %s exited 3 (partial results) under --keep_going; continuing with the targets already streamed", command)
			return nil
		}
		return &bderrors.QueryFailed{Args: cmd.Args, ExitCode: exitCode, StderrTail: stderr.buf.String()}
	}

	return seq, closeFn, nil
}
