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

package impact

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
	"github.com/bazel-contrib/bazel-diff-go/internal/label"
)

func TestComputeWithoutDepEdgesReturnsDirectChangesOnly(t *testing.T) {
	start := map[string]string{"//a:a": "h1", "//a:b": "h2", "//a:c": "h3"}
	final := map[string]string{"//a:a": "h1-changed", "//a:b": "h2", "//a:d": "h4"}

	res, err := Compute(start, final, Options{})
	assert.NoError(t, err)
	assert.Equal(t, []string{"//a:a", "//a:c", "//a:d"}, res.Changed)
	assert.Nil(t, res.Distances)
}

func TestComputeFormatMismatchErrors(t *testing.T) {
	start := map[string]string{"//a:a": "h1"}
	final := map[string]string{"Rule://a:a": "h1"}

	_, err := Compute(start, final, Options{})
	assert.Error(t, err)
	var mismatch *bderrors.HashFormatMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestComputeFilterRequiresTypedHashes(t *testing.T) {
	start := map[string]string{"//a:a": "h1"}
	final := map[string]string{"//a:a": "h2"}

	_, err := Compute(start, final, Options{TargetTypeFilter: []label.Kind{label.Rule}})
	assert.Error(t, err)
	var needsTyped *bderrors.FilterRequiresTypedHashes
	assert.ErrorAs(t, err, &needsTyped)
}

func TestComputeFiltersByTargetType(t *testing.T) {
	start := map[string]string{
		"Rule://a:lib":         "h1",
		"SourceFile://a:a.cc":  "h2",
	}
	final := map[string]string{
		"Rule://a:lib":         "h1-changed",
		"SourceFile://a:a.cc":  "h2-changed",
	}

	res, err := Compute(start, final, Options{TargetTypeFilter: []label.Kind{label.Rule}})
	assert.NoError(t, err)
	assert.Equal(t, []string{"Rule://a:lib"}, res.Changed)
}

// TestComputeDistancesMatchesS6Scenario builds a three-level dependency
// chain (//a:leaf <- //a:mid <- //a:top) and confirms that changing the
// leaf marks every ancestor as impacted with the expected BFS distances.
func TestComputeDistancesMatchesS6Scenario(t *testing.T) {
	start := map[string]string{
		"//a:leaf": "h-leaf",
		"//a:mid":  "h-mid",
		"//a:top":  "h-top",
		"//b:far":  "h-far",
	}
	final := map[string]string{
		"//a:leaf": "h-leaf-changed",
		"//a:mid":  "h-mid",
		"//a:top":  "h-top",
		"//b:far":  "h-far",
	}
	depEdges := map[string][]string{
		"//a:mid": {"//a:leaf"},
		"//a:top": {"//a:mid"},
		"//b:far": {"//a:top"},
	}

	res, err := Compute(start, final, Options{DepEdges: depEdges})
	assert.NoError(t, err)
	assert.Equal(t, []string{"//a:leaf", "//a:mid", "//a:top", "//b:far"}, res.Changed)

	assert.Equal(t, Distances{TargetDistance: 0, PackageDistance: 0}, res.Distances["//a:leaf"])
	assert.Equal(t, Distances{TargetDistance: 1, PackageDistance: 0}, res.Distances["//a:mid"])
	assert.Equal(t, Distances{TargetDistance: 2, PackageDistance: 0}, res.Distances["//a:top"])
	assert.Equal(t, Distances{TargetDistance: 3, PackageDistance: 1}, res.Distances["//b:far"])
}

func TestComputeDistancesPicksMinimumPackageDistanceAcrossParents(t *testing.T) {
	// //c:top depends on both //a:mid (same package as the changed leaf,
	// reached in 1 hop) and //b:mid (a different package, also reached in
	// 1 hop); the minimum packageDistance among same-level parents wins:
	// via //a:mid the path crosses one package (//a -> //c), via //b:mid two.
	start := map[string]string{
		"//a:leaf": "h1",
		"//a:mid":  "h2",
		"//b:mid":  "h3",
		"//c:top":  "h4",
	}
	final := map[string]string{
		"//a:leaf": "h1-changed",
		"//a:mid":  "h2",
		"//b:mid":  "h3",
		"//c:top":  "h4",
	}
	depEdges := map[string][]string{
		"//a:mid": {"//a:leaf"},
		"//b:mid": {"//a:leaf"},
		"//c:top": {"//a:mid", "//b:mid"},
	}

	res, err := Compute(start, final, Options{DepEdges: depEdges})
	assert.NoError(t, err)
	assert.Equal(t, Distances{TargetDistance: 1, PackageDistance: 0}, res.Distances["//a:mid"])
	assert.Equal(t, Distances{TargetDistance: 1, PackageDistance: 1}, res.Distances["//b:mid"])
	assert.Equal(t, Distances{TargetDistance: 2, PackageDistance: 1}, res.Distances["//c:top"])
}

func TestComputeDistancesWithTypedHashes(t *testing.T) {
	start := map[string]string{"Rule://a:lib": "h1"}
	final := map[string]string{"Rule://a:lib": "h1-changed"}
	depEdges := map[string][]string{
		"//a:top": {"//a:lib"},
	}

	res, err := Compute(start, final, Options{DepEdges: depEdges})
	assert.NoError(t, err)
	assert.Contains(t, res.Changed, "Rule://a:lib")
	assert.Contains(t, res.Changed, "Rule://a:top")
	assert.Equal(t, Distances{TargetDistance: 1, PackageDistance: 0}, res.Distances["Rule://a:top"])
}

// TestComputeDistancesWithPropagatedAncestorChanges mirrors what the real
// Hash Engine actually produces for a seed change (spec §8 S3): changing
// //a:src's content also changes every rule that (transitively) depends on
// it, so both //a:src and //a:lib land in the direct-change set with
// different digests. Only //a:src is the root cause; //a:lib must still get
// targetDistance 1, not 0, even though its own hash differs too.
func TestComputeDistancesWithPropagatedAncestorChanges(t *testing.T) {
	start := map[string]string{
		"//a:src": "h-src",
		"//a:lib": "h-lib",
		"//a:bin": "h-bin",
	}
	final := map[string]string{
		"//a:src": "h-src-changed",
		"//a:lib": "h-lib-changed",
		"//a:bin": "h-bin-changed",
	}
	depEdges := map[string][]string{
		"//a:lib": {"//a:src"},
		"//a:bin": {"//a:lib"},
	}

	res, err := Compute(start, final, Options{DepEdges: depEdges})
	assert.NoError(t, err)
	assert.Equal(t, []string{"//a:bin", "//a:lib", "//a:src"}, res.Changed)
	assert.Equal(t, Distances{TargetDistance: 0, PackageDistance: 0}, res.Distances["//a:src"])
	assert.Equal(t, Distances{TargetDistance: 1, PackageDistance: 0}, res.Distances["//a:lib"])
	assert.Equal(t, Distances{TargetDistance: 2, PackageDistance: 0}, res.Distances["//a:bin"])
}

func TestComputeNoUnreachableNodesInDistances(t *testing.T) {
	start := map[string]string{"//a:a": "h1", "//a:isolated": "hx"}
	final := map[string]string{"//a:a": "h1-changed", "//a:isolated": "hx"}
	depEdges := map[string][]string{
		"//a:isolated": {"//a:unrelated"},
	}

	res, err := Compute(start, final, Options{DepEdges: depEdges})
	assert.NoError(t, err)
	assert.Equal(t, []string{"//a:a"}, res.Changed)
}
