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

// Package seed loads the three external inputs that feed leaf-level
// material into the Hash Engine: the seed-hash map (--seed-filepaths), the
// modified-file predicate (--modified-filepaths), and content-hash
// overrides (--contentHashPath). None of the three ever change a rule's
// structure, only the 32-byte value a SourceFile contributes to its own
// hash (spec §4.4).
package seed

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
	"github.com/bazel-contrib/bazel-diff-go/internal/label"
)

// Digest32 is a raw 32-byte content digest, as mixed verbatim by
// internal/hashengine's mix_digest primitive.
type Digest32 = [32]byte

// Map is the SeedHashMap: source-file label to pre-computed content digest.
type Map map[label.Label]Digest32

// ContentOverrides is the contentHashPath JSON: explicit source digests
// that win over a file-derived seed.
type ContentOverrides map[label.Label]Digest32

// ModifiedFilePredicate restricts the seed-override effect to a set of
// workspace-relative paths. A nil predicate means "unrestricted" (every
// seeded label contributes its seed). Entries may be doublestar glob
// patterns, matching bazel-diff's own --modified-filepaths convention of
// accepting a file of path globs rather than only exact paths (spec.md's
// distillation simplified this to "a set of paths").
type ModifiedFilePredicate struct {
	patterns []string
}

// NewModifiedFilePredicate builds a predicate from literal paths or glob
// patterns.
func NewModifiedFilePredicate(patterns []string) *ModifiedFilePredicate {
	return &ModifiedFilePredicate{patterns: patterns}
}

// Allows reports whether path is covered by the predicate: an exact match
// or a doublestar glob match against any configured pattern.
func (p *ModifiedFilePredicate) Allows(path string) bool {
	if p == nil {
		return true
	}
	for _, pattern := range p.patterns {
		if pattern == path {
			return true
		}
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// LoadMap parses a JSON object of {"label": "hex-digest"} pairs, as
// produced by hashing each seed file's contents externally.
func LoadMap(r io.Reader) (Map, error) {
	raw, err := decodeStringMap(r)
	if err != nil {
		return nil, err
	}
	out := make(Map, len(raw))
	for k, v := range raw {
		l, err := label.Normalize(k)
		if err != nil {
			return nil, err
		}
		d, err := decodeDigest(v)
		if err != nil {
			return nil, fmt.Errorf("seed hash for %s: %w", l, err)
		}
		out[l] = d
	}
	return out, nil
}

// LoadContentOverrides parses the --contentHashPath JSON, same shape as
// LoadMap.
func LoadContentOverrides(r io.Reader) (ContentOverrides, error) {
	m, err := LoadMap(r)
	if err != nil {
		return nil, err
	}
	return ContentOverrides(m), nil
}

// LoadModifiedFilepaths parses a JSON array of workspace-relative path
// patterns.
func LoadModifiedFilepaths(r io.Reader) (*ModifiedFilePredicate, error) {
	var patterns []string
	dec := json.NewDecoder(r)
	if err := dec.Decode(&patterns); err != nil {
		return nil, &bderrors.IoError{Path: "modified-filepaths", Err: err}
	}
	return NewModifiedFilePredicate(patterns), nil
}

func decodeStringMap(r io.Reader) (map[string]string, error) {
	var raw map[string]string
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, &bderrors.IoError{Path: "seed/content-hash json", Err: err}
	}
	return raw, nil
}

func decodeDigest(hexStr string) (Digest32, error) {
	var d Digest32
	hexStr = strings.TrimSpace(hexStr)
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return d, err
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("expected %d raw bytes, got %d from %q", len(d), len(b), hexStr)
	}
	copy(d[:], b)
	return d, nil
}

// SourcePath derives the workspace-relative path used to test a
// ModifiedFilePredicate against a normalized SourceFile label, using the
// label's package-plus-name convention ("//pkg/sub:file.go" -> "pkg/sub/file.go").
func SourcePath(l label.Label) string {
	s := string(l)
	s = strings.TrimPrefix(s, "//")
	if idx := strings.Index(s, "@"); idx == 0 {
		// Repo-qualified label ("@repo//pkg:name"); strip the repo prefix,
		// the predicate only ever describes paths within a single checkout.
		if slashes := strings.Index(s, "//"); slashes >= 0 {
			s = s[slashes+2:]
		}
	}
	// A root-package label ("//:file") has no package part to join.
	return strings.TrimPrefix(strings.Replace(s, ":", "/", 1), "/")
}
