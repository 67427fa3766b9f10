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

// Package label canonicalizes Bazel label strings so that equal labels hash
// identically regardless of which spelling the Bazel query output used.
//
// Canonicalization is layered on top of bazel-gazelle's label parser: gazelle
// already understands repo/pkg/name decomposition and bzlmod canonical names
// ("@@repo+//pkg:name"). Two behaviors this package overrides:
//   - the bare "@//pkg:name" self-repo form, which gazelle keeps distinct
//     from "//pkg:name" (Repo=="@" vs Repo==""), but which the Bazel
//     streamed-proto output and bazel-diff's reference implementation treat
//     as the same label;
//   - gazelle's short "//pkg" spelling when name equals the package's base
//     name, which this package always re-expands to the explicit "//pkg:name"
//     form, since Bazel query never omits the colon and spec §4.1 requires
//     both spellings to normalize to one, colon-ful string.
package label

import (
	"fmt"
	"strings"

	bzl "github.com/bazelbuild/buildtools/build"
	gazelle "github.com/bazelbuild/bazel-gazelle/label"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
)

// Kind is the tagged-union discriminator for a Target (spec §3 TargetKind).
type Kind int

const (
	Rule Kind = iota
	SourceFile
	GeneratedFile
)

func (k Kind) String() string {
	switch k {
	case Rule:
		return "Rule"
	case SourceFile:
		return "SourceFile"
	case GeneratedFile:
		return "GeneratedFile"
	default:
		return "Unknown"
	}
}

// Label is a canonicalized Bazel label string. It is always the result of
// Normalize and is safe to use as a map key or hash input directly.
type Label string

// Normalize canonicalizes a raw label string per spec §4.1:
//  1. a bare "@//pkg:name" self-repo prefix collapses to "//pkg:name";
//     any other leading "@" or "@@" form is preserved as-is.
//  2. "+" characters inside repository names are never interpreted, only
//     carried through gazelle's parser and re-emitted verbatim.
//  3. "//a/b" and "//a/b:b" normalize to the same string.
//  4. a bare repo name with no "//" (e.g. "@repo") normalizes to
//     "@repo//:repo".
func Normalize(raw string) (Label, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &bderrors.InvalidLabel{Label: raw, Reason: "empty label"}
	}
	if trimmed != raw || strings.ContainsAny(trimmed, " \t\n") {
		return "", &bderrors.InvalidLabel{Label: raw, Reason: "label contains whitespace"}
	}

	parsed, err := gazelle.Parse(trimmed)
	if err != nil {
		return "", &bderrors.InvalidLabel{Label: raw, Reason: err.Error()}
	}

	// Collapse the bare self-repo "@" form ("@//pkg:name") down to "//pkg:name".
	// gazelle.Parse keeps Repo == "@" distinct from Repo == "" because bzlmod
	// allows writing either, but they address the same target.
	if parsed.Repo == "@" && !parsed.Canonical {
		parsed.Repo = ""
	}

	return Label(explicitString(parsed)), nil
}

// explicitString formats parsed the way gazelle's own Label.String does,
// except it never drops the ":name" suffix when the target name equals the
// package's base name. Bazel query always emits the colon-ful spelling, and
// spec §4.1 rule 3 requires "//a/b" and "//a/b:b" to normalize to the same,
// colon-ful string, so the short form can never be the normalized output.
func explicitString(l gazelle.Label) string {
	if l.Relative {
		return fmt.Sprintf(":%s", l.Name)
	}

	var repo string
	if l.Repo != "" && l.Repo != "@" {
		repo = fmt.Sprintf("@%s", l.Repo)
	} else {
		repo = l.Repo
	}
	if l.Canonical && strings.HasPrefix(repo, "@") {
		repo = "@" + repo
	}

	return fmt.Sprintf("%s//%s:%s", repo, l.Pkg, l.Name)
}

// MustNormalize panics if raw is not a valid label. Intended for constants
// and tests, never for Bazel query output.
func MustNormalize(raw string) Label {
	l, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return l
}

// Package returns the "//pkg" portion of a normalized label, used by the
// Impact Pipeline's package-distance metric.
func (l Label) Package() string {
	s := string(l)
	slashes := strings.Index(s, "//")
	if slashes < 0 {
		return s
	}
	rest := s[slashes:]
	if colon := strings.Index(rest, ":"); colon >= 0 {
		return s[:slashes] + rest[:colon]
	}
	return s
}

// WithKind formats the "Kind:Label" composite key used when
// includeTargetType is enabled (spec §3, §4.4 Target-type annotation).
func WithKind(k Kind, l Label) string {
	return fmt.Sprintf("%s:%s", k, l)
}

// SplitKind reverses WithKind. ok is false if s does not have a recognized
// "Kind:" prefix, in which case s is returned unchanged as the label half.
func SplitKind(s string) (k Kind, l Label, ok bool) {
	for _, candidate := range []Kind{Rule, SourceFile, GeneratedFile} {
		prefix := candidate.String() + ":"
		if strings.HasPrefix(s, prefix) {
			return candidate, Label(s[len(prefix):]), true
		}
	}
	return 0, Label(s), false
}

// BzlString renders the label as it would appear as a BUILD-file string
// literal, using buildtools' formatter over gazelle's label.Label.BzlExpr.
// Used by diagnostic tooling that prints dependency edges back in
// BUILD-file syntax; never part of the hash or digest computation.
func (l Label) BzlString() (string, error) {
	parsed, err := gazelle.Parse(string(l))
	if err != nil {
		return "", &bderrors.InvalidLabel{Label: string(l), Reason: err.Error()}
	}
	f := &bzl.File{Stmt: []bzl.Expr{parsed.BzlExpr()}}
	return strings.TrimSpace(string(bzl.Format(f))), nil
}
