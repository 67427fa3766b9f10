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

package hashengine

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bazel-contrib/bazel-diff-go/internal/bderrors"
	"github.com/bazel-contrib/bazel-diff-go/internal/buildpb"
	"github.com/bazel-contrib/bazel-diff-go/internal/extrepo"
	"github.com/bazel-contrib/bazel-diff-go/internal/graph"
	"github.com/bazel-contrib/bazel-diff-go/internal/label"
	"github.com/bazel-contrib/bazel-diff-go/internal/seed"
)

// s2Graph builds the spec §9 S2 scenario: one source file, one cc_library
// depending on it.
func s2Graph() *graph.BazelGraph {
	g := graph.New()
	src := label.MustNormalize("//a:src")
	g.Targets[src] = &graph.Target{Kind: label.SourceFile, Source: &graph.SourceTarget{}}
	g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{
			Class: "cc_library",
			Attributes: []graph.Attribute{
				{Name: "name", Type: buildpb.AttrString, StringValue: "lib"},
				{Name: "srcs", Type: buildpb.AttrLabelList, ListValue: []string{string(src)}},
			},
			Deps: []label.Label{src},
		},
	}
	return g
}

func TestS2SourceFileDigestMatchesFormula(t *testing.T) {
	g := s2Graph()
	e := New(g, Inputs{})
	got, err := e.Hash(label.MustNormalize("//a:src"))
	assert.NoError(t, err)

	h := sha256.New()
	h.Write([]byte("SOURCE"))
	h.Write([]byte("//a:src"))
	h.Write(make([]byte, 32))
	want := h.Sum(nil)

	assert.Equal(t, want, got[:])
}

func TestS3SeedChangeAltersBothDigests(t *testing.T) {
	g := s2Graph()
	unseeded := New(g, Inputs{})
	unseededHashes, err := unseeded.HashAll()
	assert.NoError(t, err)

	var oneByte [32]byte
	for i := range oneByte {
		oneByte[i] = 0x01
	}
	seeded := New(g, Inputs{Seeds: seed.Map{label.MustNormalize("//a:src"): oneByte}})
	seededHashes, err := seeded.HashAll()
	assert.NoError(t, err)

	assert.NotEqual(t, unseededHashes[label.MustNormalize("//a:src")], seededHashes[label.MustNormalize("//a:src")])
	assert.NotEqual(t, unseededHashes[label.MustNormalize("//a:lib")], seededHashes[label.MustNormalize("//a:lib")])
}

func TestS4IgnoredAttributeMakesDigestsEqual(t *testing.T) {
	base := func(tag string) *graph.BazelGraph {
		g := graph.New()
		g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
			Kind: label.Rule,
			Rule: &graph.RuleTarget{
				Class: "cc_library",
				Attributes: []graph.Attribute{
					{Name: "name", Type: buildpb.AttrString, StringValue: "lib"},
					{Name: "tags", Type: buildpb.AttrStringList, ListValue: []string{tag}},
				},
			},
		}
		return g
	}
	gx := base("x")
	gy := base("y")

	withoutIgnore1, _ := New(gx, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	withoutIgnore2, _ := New(gy, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	assert.NotEqual(t, withoutIgnore1, withoutIgnore2)

	ignored := Inputs{IgnoredRuleHashingAttributes: map[string]bool{"tags": true}}
	withIgnore1, _ := New(gx, ignored).Hash(label.MustNormalize("//a:lib"))
	withIgnore2, _ := New(gy, ignored).Hash(label.MustNormalize("//a:lib"))
	assert.Equal(t, withIgnore1, withIgnore2)
}

func TestGeneratedFileInheritsGeneratorDigestExactly(t *testing.T) {
	g := graph.New()
	g.Targets[label.MustNormalize("//a:gen_rule")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{Class: "genrule"},
	}
	g.Targets[label.MustNormalize("//a:out.txt")] = &graph.Target{
		Kind:      label.GeneratedFile,
		Generated: &graph.GeneratedTarget{Generator: label.MustNormalize("//a:gen_rule")},
	}

	e := New(g, Inputs{})
	ruleDigest, err := e.Hash(label.MustNormalize("//a:gen_rule"))
	assert.NoError(t, err)
	genDigest, err := e.Hash(label.MustNormalize("//a:out.txt"))
	assert.NoError(t, err)
	assert.Equal(t, ruleDigest, genDigest)
}

func TestOrderIndependenceOfAttributesAndDeps(t *testing.T) {
	depA := label.MustNormalize("//a:dep_a")
	depB := label.MustNormalize("//a:dep_b")

	mkGraph := func(attrs []graph.Attribute, deps []label.Label) *graph.BazelGraph {
		g := graph.New()
		g.Targets[depA] = &graph.Target{Kind: label.SourceFile, Source: &graph.SourceTarget{}}
		g.Targets[depB] = &graph.Target{Kind: label.SourceFile, Source: &graph.SourceTarget{}}
		g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
			Kind: label.Rule,
			Rule: &graph.RuleTarget{Class: "cc_library", Attributes: attrs, Deps: deps},
		}
		return g
	}

	attrs1 := []graph.Attribute{
		{Name: "name", Type: buildpb.AttrString, StringValue: "lib"},
		{Name: "srcs", Type: buildpb.AttrLabelList, ListValue: []string{"//a:dep_a", "//a:dep_b"}},
	}
	attrs2 := []graph.Attribute{
		{Name: "srcs", Type: buildpb.AttrLabelList, ListValue: []string{"//a:dep_a", "//a:dep_b"}},
		{Name: "name", Type: buildpb.AttrString, StringValue: "lib"},
	}

	g1 := mkGraph(attrs1, []label.Label{depA, depB})
	g2 := mkGraph(attrs2, []label.Label{depB, depA, depB}) // reordered + duplicate

	h1, err := New(g1, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	assert.NoError(t, err)
	h2, err := New(g2, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	assert.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCycleDetected(t *testing.T) {
	g := graph.New()
	a := label.MustNormalize("//a:a")
	b := label.MustNormalize("//a:b")
	g.Targets[a] = &graph.Target{Kind: label.Rule, Rule: &graph.RuleTarget{Class: "x", Deps: []label.Label{b}}}
	g.Targets[b] = &graph.Target{Kind: label.Rule, Rule: &graph.RuleTarget{Class: "x", Deps: []label.Label{a}}}

	_, err := New(g, Inputs{}).Hash(a)
	assert.Error(t, err)
}

func TestMissingMainRepoDependencyHashesAsOpaqueLabel(t *testing.T) {
	g := graph.New()
	missing := label.MustNormalize("//nowhere:bar")
	g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{Class: "cc_library", Deps: []label.Label{missing}},
	}

	e := New(g, Inputs{})
	_, err := e.Hash(label.MustNormalize("//a:lib"))
	assert.NoError(t, err)

	got := opaqueDigest(missing)
	want := sha256.Sum256([]byte(missing))
	assert.Equal(t, want, [32]byte(got))
}

func TestUnlistedExternalRepoCollapsesToOneOpaqueLeaf(t *testing.T) {
	g := graph.New()
	a := label.MustNormalize("@external//foo:a")
	b := label.MustNormalize("@external//foo:b")
	g.Targets[label.MustNormalize("//x:lib1")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{Class: "cc_library", Deps: []label.Label{a}},
	}
	g.Targets[label.MustNormalize("//x:lib2")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{Class: "cc_library", Deps: []label.Label{b}},
	}

	e := New(g, Inputs{})
	d1, err := e.Hash(label.MustNormalize("//x:lib1"))
	assert.NoError(t, err)
	d2, err := e.Hash(label.MustNormalize("//x:lib2"))
	assert.NoError(t, err)

	// Both deps belong to the same unlisted repo and collapse to one
	// repo-keyed opaque leaf (spec §4.6), so a and b share one digest even
	// though they are different labels. lib1 and lib2 still differ, because
	// a rule's hash mixes in each dependency's label string.
	da, err := e.Hash(a)
	assert.NoError(t, err)
	db, err := e.Hash(b)
	assert.NoError(t, err)
	assert.Equal(t, da, db)
	assert.NotEqual(t, d1, d2)

	want := sha256.Sum256([]byte("@external"))
	assert.Equal(t, want, [32]byte(opaqueRepoDigest("external")))
	assert.NotEqual(t, [32]byte(opaqueDigest(a)), [32]byte(opaqueRepoDigest("external")))
}

func TestUnrecognizedAttributeTypeIsSkippedNotFatal(t *testing.T) {
	base := func(extra []graph.Attribute) *graph.BazelGraph {
		g := graph.New()
		attrs := append([]graph.Attribute{
			{Name: "name", Type: buildpb.AttrString, StringValue: "lib"},
		}, extra...)
		g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
			Kind: label.Rule,
			Rule: &graph.RuleTarget{Class: "cc_library", Attributes: attrs},
		}
		return g
	}

	withoutUnknown := base(nil)
	withUnknown := base([]graph.Attribute{
		{Name: "deps_dict", Type: buildpb.AttrUnknown},
	})

	d1, err := New(withoutUnknown, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	assert.NoError(t, err)
	d2, err := New(withUnknown, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	assert.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestInvalidUTF8AttributeValueErrors(t *testing.T) {
	g := graph.New()
	g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{
			Class: "cc_library",
			Attributes: []graph.Attribute{
				{Name: "name", Type: buildpb.AttrString, StringValue: "\xff\xfe"},
			},
		},
	}

	_, err := New(g, Inputs{}).Hash(label.MustNormalize("//a:lib"))
	assert.Error(t, err)
	var invalid *bderrors.InvalidAttributeValue
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, "name", invalid.Attribute)
}

func TestMissingFineGrainedTargetErrorsInsteadOfOpaque(t *testing.T) {
	g := graph.New()
	missing := label.MustNormalize("@external//foo:bar")
	g.Targets[label.MustNormalize("//a:lib")] = &graph.Target{
		Kind: label.Rule,
		Rule: &graph.RuleTarget{Class: "cc_library", Deps: []label.Label{missing}},
	}

	e := New(g, Inputs{FineGrainedRepos: extrepo.NewSet([]string{"external"})})
	_, err := e.Hash(label.MustNormalize("//a:lib"))
	assert.Error(t, err)
	var missingFG *bderrors.MissingFineGrainedTarget
	assert.ErrorAs(t, err, &missingFG)
	assert.Equal(t, "external", missingFG.Repo)
}
