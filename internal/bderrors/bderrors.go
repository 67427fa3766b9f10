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

// Package bderrors defines the error taxonomy shared by the graph, hash
// engine and impact pipeline. Each kind is a distinct type so callers can
// branch on it with errors.As instead of string matching.
package bderrors

import "fmt"

// InvalidLabel reports a label string that could not be canonicalized.
type InvalidLabel struct {
	Label  string
	Reason string
}

func (e *InvalidLabel) Error() string {
	return fmt.Sprintf("invalid label %q: %s", e.Label, e.Reason)
}

// InvalidAttributeValue reports an attribute whose value could not be
// canonicalized to the byte form the Hash Engine requires.
type InvalidAttributeValue struct {
	Attribute string
	Reason    string
}

func (e *InvalidAttributeValue) Error() string {
	return fmt.Sprintf("invalid value for attribute %q: %s", e.Attribute, e.Reason)
}

// TruncatedStream reports EOF reached mid-message while decoding the
// streamed-proto format.
type TruncatedStream struct {
	BytesRead int
}

func (e *TruncatedStream) Error() string {
	return fmt.Sprintf("truncated streamed-proto input after %d bytes", e.BytesRead)
}

// ProtoDecodeError wraps a failure to parse a single streamed-proto message.
type ProtoDecodeError struct {
	Offset int
	Err    error
}

func (e *ProtoDecodeError) Error() string {
	return fmt.Sprintf("failed to decode proto message at offset %d: %v", e.Offset, e.Err)
}

func (e *ProtoDecodeError) Unwrap() error { return e.Err }

// QueryFailed reports a Bazel subprocess that could not be started or that
// exited non-zero; under --keep_going, exit code 3 (partial results) is not
// reported as QueryFailed, any other non-zero exit still is.
type QueryFailed struct {
	Args       []string
	ExitCode   int
	StderrTail string
}

func (e *QueryFailed) Error() string {
	return fmt.Sprintf("bazel query %v failed with exit code %d: %s", e.Args, e.ExitCode, e.StderrTail)
}

// CycleDetected reports a dependency cycle found by the hash engine's
// defensive acyclicity check.
type CycleDetected struct {
	Label string
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("cycle detected while hashing %q", e.Label)
}

// MissingFineGrainedTarget reports a dependency label that fine-grained
// hashing was enabled for, but which is absent from the graph.
type MissingFineGrainedTarget struct {
	Label string
	Repo  string
}

func (e *MissingFineGrainedTarget) Error() string {
	return fmt.Sprintf("missing fine-grained target %q in repo %q", e.Label, e.Repo)
}

// HashFormatMismatch reports that one hash map used --includeTargetType and
// the other did not.
type HashFormatMismatch struct{}

func (e *HashFormatMismatch) Error() string {
	return "hash maps use inconsistent key formats: one is typed (Kind:Label), the other is not"
}

// FilterRequiresTypedHashes reports a --targetType filter applied to
// untyped hash maps.
type FilterRequiresTypedHashes struct{}

func (e *FilterRequiresTypedHashes) Error() string {
	return "--targetType filtering requires hash maps generated with --includeTargetType"
}

// IoError wraps a file read/write failure with the offending path.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error for %q: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// ConfigError reports a malformed or mutually exclusive CLI flag combination.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}
