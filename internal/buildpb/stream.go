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

package buildpb

import (
	"bufio"
	"io"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
)

// DecodeStream returns a lazy sequence over `bazel query --output=streamed_proto`:
// each message is a varint length prefix followed by that many bytes of a
// serialized Target. EOF exactly at a message boundary ends the sequence
// cleanly; EOF in the middle of a length prefix or a message body yields a
// single TruncatedStream error and stops.
//
// The sequence is lazy so the Graph Builder can start folding targets into
// the graph before the Query Driver's subprocess has finished writing.
func DecodeStream(r io.Reader) func(yield func(*Target, error) bool) {
	br := bufio.NewReader(r)
	return func(yield func(*Target, error) bool) {
		bytesRead := 0
		for {
			length, n, err := readVarint(br)
			bytesRead += n
			if err == io.EOF && n == 0 {
				return // clean end of stream
			}
			if err != nil {
				yield(nil, &bderrors.TruncatedStream{BytesRead: bytesRead})
				return
			}

			buf := make([]byte, length)
			if _, err := io.ReadFull(br, buf); err != nil {
				yield(nil, &bderrors.TruncatedStream{BytesRead: bytesRead})
				return
			}
			bytesRead += int(length)

			target, err := DecodeTarget(buf)
			if err != nil {
				if !yield(nil, &bderrors.ProtoDecodeError{Offset: bytesRead, Err: err}) {
					return
				}
				continue
			}
			if !yield(target, nil) {
				return
			}
		}
	}
}

// readVarint reads a base-128 varint length prefix one byte at a time. n is
// the number of bytes consumed, used for truncation diagnostics.
func readVarint(br *bufio.Reader) (value uint64, n int, err error) {
	var shift uint
	for {
		b, readErr := br.ReadByte()
		if readErr != nil {
			if readErr == io.EOF && n == 0 {
				return 0, 0, io.EOF
			}
			return 0, n, io.ErrUnexpectedEOF
		}
		n++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, n, io.ErrUnexpectedEOF
		}
	}
}
