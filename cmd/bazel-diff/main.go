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

// Command bazel-diff is a drop-in replacement for the upstream bazel-diff
// CLI: "generate-hashes" produces a content-hash map for a workspace
// snapshot, "get-impacted-targets" diffs two such snapshots.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/bazel-contrib/bazel-diff-go/internal/bazelquery"
	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
	"github.com/bazel-contrib/bazel-diff-go/internal/extrepo"
	"github.com/bazel-contrib/bazel-diff-go/internal/graph"
	"github.com/bazel-contrib/bazel-diff-go/internal/hashengine"
	"github.com/bazel-contrib/bazel-diff-go/internal/impact"
	"github.com/bazel-contrib/bazel-diff-go/internal/label"
	"github.com/bazel-contrib/bazel-diff-go/internal/seed"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: bazel-diff <generate-hashes|get-impacted-targets> [flags]")
	}

	var err error
	switch os.Args[1] {
	case "generate-hashes":
		err = runGenerateHashes(os.Args[2:])
	case "get-impacted-targets":
		err = runGetImpactedTargets(os.Args[2:])
	default:
		log.Fatalf("unknown subcommand %q, want generate-hashes or get-impacted-targets", os.Args[1])
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func runGenerateHashes(args []string) error {
	fs := flag.NewFlagSet("generate-hashes", flag.ExitOnError)
	workspace := fs.String("w", ".", "Bazel workspace directory the query runs from")
	output := fs.String("o", "", "Output path for the hash JSON (stdout if empty)")
	depEdgesOutput := fs.String("depEdgesOutput", "", "Optional output path for the dep-edges JSON")
	verbose := fs.Bool("v", false, "Log graph and query diagnostics to stderr")
	includeTargetType := fs.Bool("includeTargetType", false, "Prefix every hash key with its Kind")
	fineGrained := fs.String("fineGrainedHashExternalRepos", "", "Comma-separated external repos to hash fine-grained instead of as a single opaque leaf")
	bazelCommandOptions := fs.String("bazelCommandOptions", "", "Extra flags forwarded verbatim to the bazel query/cquery invocation")
	useCquery := fs.Bool("useCquery", false, "Use bazel cquery instead of query")
	excludeExternalTargets := fs.Bool("excludeExternalTargets", false, "Exclude //external/... from the main-repo query pattern")
	ignoredAttrs := fs.String("ignoredRuleHashingAttributes", "", "Comma-separated rule attribute names excluded from hashing")
	seedFilepaths := fs.String("seed-filepaths", "", "Path to the SeedHashMap JSON")
	modifiedFilepaths := fs.String("modified-filepaths", "", "Path to the modified-file predicate JSON")
	contentHashPath := fs.String("contentHashPath", "", "Path to the content-hash overrides JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repos := extrepo.NewSet(splitCSV(*fineGrained))

	inputs := hashengine.Inputs{
		IgnoredRuleHashingAttributes: toBoolSet(splitCSV(*ignoredAttrs)),
		FineGrainedRepos:             repos,
	}
	if *seedFilepaths != "" {
		m, err := withOpenFile(*seedFilepaths, seed.LoadMap)
		if err != nil {
			return err
		}
		inputs.Seeds = m
	}
	if *modifiedFilepaths != "" {
		pred, err := withOpenFile(*modifiedFilepaths, seed.LoadModifiedFilepaths)
		if err != nil {
			return err
		}
		inputs.ModifiedFilePredicate = pred
	}
	if *contentHashPath != "" {
		overrides, err := withOpenFile(*contentHashPath, seed.LoadContentOverrides)
		if err != nil {
			return err
		}
		inputs.ContentOverrides = overrides
	}

	driver := &bazelquery.Driver{
		WorkingDir:     *workspace,
		CommandOptions: strings.Fields(*bazelCommandOptions),
		UseCquery:      *useCquery,
		KeepGoing:      true,
	}

	g := graph.New()
	for _, pattern := range extrepo.QueryPatterns(repos, *excludeExternalTargets) {
		if *verbose {
			log.Printf("querying %q", pattern)
		}
		seq, closeFn, err := driver.Targets(context.Background(), pattern)
		if err != nil {
			return err
		}
		built, buildErr := graph.Build(seq)
		closeErr := closeFn()
		if buildErr != nil {
			return buildErr
		}
		if closeErr != nil {
			return closeErr
		}
		mergeGraph(g, built)
	}
	if *verbose {
		log.Printf("graph: %d rules, %d source files, %d generated files", g.Stats.Rules, g.Stats.SourceFiles, g.Stats.GeneratedFiles)
	}

	engine := hashengine.New(g, inputs)
	digests, err := engine.HashAll()
	if err != nil {
		return err
	}

	hashJSON := make(map[string]string, len(digests))
	for l, d := range digests {
		key := string(l)
		if *includeTargetType {
			t, _ := g.Lookup(l)
			key = label.WithKind(t.Kind, l)
		}
		hashJSON[key] = d.String()
	}
	if err := writeSortedJSONObject(*output, hashJSON); err != nil {
		return err
	}

	if *depEdgesOutput != "" {
		return writeSortedStringSliceJSON(*depEdgesOutput, buildDepEdgesMap(g))
	}
	return nil
}

func runGetImpactedTargets(args []string) error {
	fs := flag.NewFlagSet("get-impacted-targets", flag.ExitOnError)
	startingHashesPath := fs.String("sh", "", "Path to the starting hashes JSON")
	finalHashesPath := fs.String("fh", "", "Path to the final hashes JSON")
	depEdgesPath := fs.String("d", "", "Path to the dep-edges JSON; when set, output is annotated with BFS distances")
	output := fs.String("o", "", "Output path (stdout if empty)")
	targetType := fs.String("targetType", "", "Comma-separated target kinds to restrict output to (requires --includeTargetType hashes)")
	fs.Bool("v", false, "Log diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *startingHashesPath == "" || *finalHashesPath == "" {
		return &bderrors.ConfigError{Reason: "get-impacted-targets requires both -sh and -fh"}
	}

	starting, err := withOpenFile(*startingHashesPath, decodeStringMapJSON)
	if err != nil {
		return err
	}
	final, err := withOpenFile(*finalHashesPath, decodeStringMapJSON)
	if err != nil {
		return err
	}

	var depEdges map[string][]string
	if *depEdgesPath != "" {
		depEdges, err = withOpenFile(*depEdgesPath, decodeDepEdgesJSON)
		if err != nil {
			return err
		}
	}

	kinds, err := parseKinds(*targetType)
	if err != nil {
		return err
	}

	res, err := impact.Compute(starting, final, impact.Options{DepEdges: depEdges, TargetTypeFilter: kinds})
	if err != nil {
		return err
	}

	return writeImpactOutput(*output, res)
}

// mergeGraph folds src's targets into dst, as required when multiple query
// patterns (main repo plus one per fine-grained external repo) each
// produce an independent BazelGraph (spec §4.6).
func mergeGraph(dst, src *graph.BazelGraph) {
	for l, t := range src.Targets {
		dst.Targets[l] = t
	}
	for l, gen := range src.GeneratorOf {
		dst.GeneratorOf[l] = gen
	}
	dst.Stats.Rules += src.Stats.Rules
	dst.Stats.SourceFiles += src.Stats.SourceFiles
	dst.Stats.GeneratedFiles += src.Stats.GeneratedFiles
}

func buildDepEdgesMap(g *graph.BazelGraph) map[string][]string {
	out := make(map[string][]string)
	for l, t := range g.Targets {
		if t.Kind != label.Rule {
			continue
		}
		deps := make([]string, 0, len(t.Rule.Deps))
		seen := make(map[string]bool, len(t.Rule.Deps))
		for _, dep := range t.Rule.Deps {
			ds := string(dep)
			if seen[ds] {
				continue
			}
			seen[ds] = true
			deps = append(deps, ds)
		}
		sort.Strings(deps)
		out[string(l)] = deps
	}
	return out
}

func parseKinds(csv string) ([]label.Kind, error) {
	names := splitCSV(csv)
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]label.Kind, 0, len(names))
	for _, name := range names {
		switch name {
		case "Rule":
			kinds = append(kinds, label.Rule)
		case "SourceFile":
			kinds = append(kinds, label.SourceFile)
		case "GeneratedFile":
			kinds = append(kinds, label.GeneratedFile)
		default:
			return nil, &bderrors.ConfigError{Reason: fmt.Sprintf("unknown --targetType value %q", name)}
		}
	}
	return kinds, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toBoolSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func withOpenFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, &bderrors.IoError{Path: path, Err: err}
	}
	defer f.Close()
	v, err := load(f)
	if err != nil {
		if _, ok := err.(*bderrors.IoError); !ok {
			return zero, &bderrors.IoError{Path: path, Err: err}
		}
		return zero, err
	}
	return v, nil
}

func decodeStringMapJSON(r io.Reader) (map[string]string, error) {
	var m map[string]string
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func decodeDepEdgesJSON(r io.Reader) (map[string][]string, error) {
	var m map[string][]string
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeSortedJSONObject(path string, m map[string]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodedKey, _ := json.Marshal(k)
		encodedVal, _ := json.Marshal(m[k])
		b.Write(encodedKey)
		b.WriteByte(':')
		b.Write(encodedVal)
	}
	b.WriteByte('}')
	return writeOutput(path, b.String())
}

func writeSortedStringSliceJSON(path string, m map[string][]string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodedKey, _ := json.Marshal(k)
		encodedVal, _ := json.Marshal(m[k])
		b.Write(encodedKey)
		b.WriteByte(':')
		b.Write(encodedVal)
	}
	b.WriteByte('}')
	return writeOutput(path, b.String())
}

// writeImpactOutput renders the impact result per spec §6: bare newline-
// delimited labels without dep-edges, or a sorted-key JSON distances object
// with them.
func writeImpactOutput(path string, res impact.Result) error {
	if res.Distances == nil {
		var b strings.Builder
		for _, k := range res.Changed {
			b.WriteString(k)
			b.WriteByte('\n')
		}
		return writeOutput(path, b.String())
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range res.Changed {
		if i > 0 {
			b.WriteByte(',')
		}
		encodedKey, _ := json.Marshal(k)
		d := res.Distances[k]
		b.Write(encodedKey)
		fmt.Fprintf(&b, `:{"targetDistance":%d,"packageDistance":%d}`, d.TargetDistance, d.PackageDistance)
	}
	b.WriteByte('}')
	return writeOutput(path, b.String())
}

func writeOutput(path, content string) error {
	if path == "" {
		_, err := fmt.Fprint(os.Stdout, content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &bderrors.IoError{Path: path, Err: err}
	}
	return nil
}
