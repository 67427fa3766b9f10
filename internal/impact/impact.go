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

// Package impact computes the set of targets whose digest changed between
// two DigestMap snapshots, and optionally the BFS distance from each
// impacted target back to the nearest directly-changed target (spec §4.5).
package impact

import (
	"slices"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
	"github.com/bazel-contrib/bazel-diff-go/internal/collections"
	"github.com/bazel-contrib/bazel-diff-go/internal/label"
)

// Distances is the pair of metrics recorded for a reachable target (spec §4.5.3).
type Distances struct {
	TargetDistance  int `json:"targetDistance"`
	PackageDistance int `json:"packageDistance"`
}

// Options configures a single Compute call.
type Options struct {
	// DepEdges is the DepEdgesMap (spec §3): rule label to its direct
	// dependency labels, always in bare (untyped) label form per spec §6.
	// Nil means distances are not computed; Compute then returns only the
	// direct-change set.
	DepEdges map[string][]string
	// TargetTypeFilter restricts the result to labels of the given kinds.
	// Nil/empty means no filtering.
	TargetTypeFilter []label.Kind
}

// Result is Compute's output.
type Result struct {
	// Changed is every impacted label, ascending lexicographic. Without
	// dep-edges this is exactly the direct-change set; with dep-edges it
	// is the full reverse-reachable closure (spec §8 property 6).
	Changed []string
	// Distances is populated only when Options.DepEdges is non-nil.
	Distances map[string]Distances
}

// Compute implements spec §4.5 end to end: direct-change detection, the
// optional type filter, and the optional BFS distance annotation.
func Compute(startingHashes, finalHashes map[string]string, opts Options) (Result, error) {
	startTyped, err := formatOf(startingHashes)
	if err != nil {
		return Result{}, err
	}
	finalTyped, err := formatOf(finalHashes)
	if err != nil {
		return Result{}, err
	}
	if startTyped != finalTyped {
		return Result{}, &bderrors.HashFormatMismatch{}
	}
	typed := startTyped

	if len(opts.TargetTypeFilter) > 0 && !typed {
		return Result{}, &bderrors.FilterRequiresTypedHashes{}
	}

	direct := directChanges(startingHashes, finalHashes)

	if len(opts.TargetTypeFilter) > 0 {
		direct = filterByKind(direct, opts.TargetTypeFilter)
	}

	if opts.DepEdges == nil {
		keys := direct.Values()
		slices.Sort(keys)
		return Result{Changed: keys}, nil
	}

	distances := bfsDistances(direct, opts.DepEdges, typed)

	if len(opts.TargetTypeFilter) > 0 {
		allowed := toKindSet(opts.TargetTypeFilter)
		for k := range distances {
			kind, _, ok := label.SplitKind(k)
			if ok && !allowed[kind] {
				delete(distances, k)
			}
		}
	}

	keys := make([]string, 0, len(distances))
	for k := range distances {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return Result{Changed: keys, Distances: distances}, nil
}

// directChanges is spec §4.5 step 1: labels whose hash differs between the
// two maps, plus every added or removed label.
func directChanges(a, b map[string]string) collections.Set[string] {
	changed := make(collections.Set[string])
	for k, av := range a {
		if bv, ok := b[k]; !ok || bv != av {
			changed.Add(k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			changed.Add(k)
		}
	}
	return changed
}

func filterByKind(s collections.Set[string], kinds []label.Kind) collections.Set[string] {
	allowed := toKindSet(kinds)
	out := make(collections.Set[string])
	for k := range s {
		if kind, _, ok := label.SplitKind(k); ok && allowed[kind] {
			out.Add(k)
		}
	}
	return out
}

func toKindSet(kinds []label.Kind) map[label.Kind]bool {
	m := make(map[label.Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// formatOf reports whether every key in m uses the "Kind:Label" composite
// form. A map mixing typed and untyped keys is itself a format error.
func formatOf(m map[string]string) (typed bool, err error) {
	sawTyped, sawUntyped := false, false
	for k := range m {
		if _, _, ok := label.SplitKind(k); ok {
			sawTyped = true
		} else {
			sawUntyped = true
		}
	}
	if sawTyped && sawUntyped {
		return false, &bderrors.HashFormatMismatch{}
	}
	return sawTyped, nil
}

// frontierItem is a candidate (label, distance-pair) pending settlement in
// bfsDistances's priority queue. Ordering by (targetDistance,
// packageDistance) means the first time a label is popped, its distances
// are final: targetDistance is primary (true BFS depth), packageDistance
// only breaks ties between predecessors offering the same targetDistance,
// exactly as spec §4.5's tie-break rule states.
type frontierItem struct {
	bare            string
	targetDistance  int
	packageDistance int
}

func (a frontierItem) Less(b frontierItem) bool {
	if a.targetDistance != b.targetDistance {
		return a.targetDistance < b.targetDistance
	}
	return a.packageDistance < b.packageDistance
}

// bfsDistances runs a multi-source shortest-path settlement over the
// reverse dependency graph starting from the root causes within direct, the
// set of directly changed labels (spec §4.5.3), using the same generic
// PriorityQueue the Hash Engine's dependency canonicalization's sibling
// packages already share. depEdges is always keyed by bare labels; when the
// hash maps are typed, output keys are reconstructed as "Rule:<label>" for
// nodes discovered purely through dep-edges (depEdges only ever names rule
// nodes, spec §6), and the original typed key is kept for a direct change
// that has its own entry in depEdges/hash maps.
//
// A direct change seeds distance 0 only if none of its own listed
// dependencies are themselves in direct: the Hash Engine propagates a
// changed leaf's digest up its whole dependency closure (spec §4.4), so a
// rule whose dependency also changed got its digest altered by that
// propagation, not as an independent root cause. Seeding every direct
// change at 0 would give every propagated ancestor a false distance of 0
// instead of its true BFS depth (spec §8 S3: a seed change to a source
// file gives the file distance 0 and its one-hop dependent distance 1).
func bfsDistances(direct collections.Set[string], depEdges map[string][]string, typed bool) map[string]Distances {
	reverse := make(map[string][]string)
	for rule, deps := range depEdges {
		for _, dep := range deps {
			reverse[dep] = append(reverse[dep], rule)
		}
	}

	originalByBare := make(map[string]string, len(direct))
	directBare := make(collections.Set[string], len(direct))
	for k := range direct {
		bare := bareLabel(k)
		originalByBare[bare] = k
		directBare.Add(bare)
	}

	pq := collections.NewEmptyPriorityQueue[frontierItem]()
	for bare := range originalByBare {
		isRootCause := true
		for _, dep := range depEdges[bare] {
			if directBare.Contains(dep) {
				isRootCause = false
				break
			}
		}
		if isRootCause {
			pq.Push(frontierItem{bare: bare})
		}
	}

	settled := make(map[string]Distances)
	outputKeys := make(map[string]string, len(direct))
	for !pq.Empty() {
		item := pq.Pop()
		if _, done := settled[item.bare]; done {
			continue
		}
		settled[item.bare] = Distances{TargetDistance: item.targetDistance, PackageDistance: item.packageDistance}
		if original, ok := originalByBare[item.bare]; ok {
			outputKeys[item.bare] = outputKey(original, item.bare, typed, true)
		} else {
			outputKeys[item.bare] = outputKey(item.bare, item.bare, typed, false)
		}

		for _, v := range reverse[item.bare] {
			if _, done := settled[v]; done {
				continue
			}
			pkgDist := item.packageDistance
			if label.Label(v).Package() != label.Label(item.bare).Package() {
				pkgDist++
			}
			pq.Push(frontierItem{bare: v, targetDistance: item.targetDistance + 1, packageDistance: pkgDist})
		}
	}

	distances := make(map[string]Distances, len(settled))
	for bare, d := range settled {
		distances[outputKeys[bare]] = d
	}
	return distances
}

func bareLabel(k string) string {
	_, l, ok := label.SplitKind(k)
	if !ok {
		return k
	}
	return string(l)
}

// outputKey reconstructs the key to emit for a bare label. isDirect keeps
// the original key spelling (which carries its real kind) for directly
// changed labels; nodes discovered only via dep-edges are always rules.
func outputKey(original, bare string, typed bool, isDirect bool) string {
	if !typed {
		return bare
	}
	if isDirect {
		return original
	}
	return label.WithKind(label.Rule, label.Label(bare))
}
