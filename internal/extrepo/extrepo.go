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

// Package extrepo decides, for a named set of external repositories, how
// they fold into the rest of the pipeline: the query patterns that pull
// their targets into the graph (spec §4.3) and the repo name a label
// belongs to, used by the Hash Engine to tell "fine-grained, but missing"
// apart from "ordinary opaque external dependency" (spec §4.4).
package extrepo

import "strings"

// Set is the --fineGrainedHashExternalRepos configuration: repo names as
// the user wrote them (legacy "foo" or bzlmod canonical "foo+"), matched
// against both a label's legacy ("@foo//...") and canonical
// ("@@foo+//...") repo prefix.
type Set map[string]bool

// NewSet builds a Set from the --fineGrainedHashExternalRepos flag value.
func NewSet(repos []string) Set {
	s := make(Set, len(repos))
	for _, r := range repos {
		s[r] = true
	}
	return s
}

// Contains reports whether repo (as extracted from a label by RepoOf) is
// configured for fine-grained hashing.
func (s Set) Contains(repo string) bool {
	return s != nil && repo != "" && s[repo]
}

// RepoOf extracts the repository name from a normalized label, or "" for
// a label in the main repository. Both legacy ("@foo//pkg:t") and bzlmod
// canonical ("@@foo+//pkg:t") forms are recognized; the canonical "+"
// suffix is kept intact, matching spec.md's S5 scenario.
func RepoOf(label string) string {
	if strings.HasPrefix(label, "@@") {
		rest := label[2:]
		if idx := strings.Index(rest, "//"); idx >= 0 {
			return rest[:idx]
		}
		return rest
	}
	if strings.HasPrefix(label, "@") {
		rest := label[1:]
		if idx := strings.Index(rest, "//"); idx >= 0 {
			return rest[:idx]
		}
		return rest
	}
	return ""
}

// QueryPatterns builds the set of query expressions the driver issues
// (spec §4.3): "//..." for the main repo, plus one pattern per configured
// fine-grained repo, in the same (legacy or canonical) form the user
// configured it in. When excludeExternalTargets is set, the main-repo
// pattern additionally excludes "//external/...".
func QueryPatterns(repos Set, excludeExternalTargets bool) []string {
	main := "//..."
	if excludeExternalTargets {
		main = "//... - //external/..."
	}
	patterns := []string{main}

	names := make([]string, 0, len(repos))
	for r := range repos {
		names = append(names, r)
	}
	// Deterministic ordering: callers (and tests) depend on stable
	// argv construction even though query semantics don't.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}

	for _, r := range names {
		patterns = append(patterns, RepoKey(r)+"//...")
	}
	return patterns
}

// RepoKey formats repo (as configured by the user, or as extracted by
// RepoOf) as the "@repo"/"@@repo+" prefix Bazel itself would use to address
// it: a bzlmod canonical name (recognizable by its "+" suffix) gets the
// double "@@", a legacy apparent name gets a single "@".
func RepoKey(repo string) string {
	if strings.Contains(repo, "+") {
		return "@@" + repo
	}
	return "@" + repo
}
