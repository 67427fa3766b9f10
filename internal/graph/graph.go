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

// Package graph folds decoded streamed-proto Target messages into an
// in-memory BazelGraph (spec §3, §4 Graph Builder). The graph is built once
// and is read-only for the rest of the pipeline (spec §5).
package graph

import (
	"fmt"
	"log"

	"github.com/bazel-contrib/bazel-diff-go/internal/buildpb"
	"github.com/bazel-contrib/bazel-diff-go/internal/label"
)

// Attribute is a rule attribute with its value already typed for the hash
// engine's canonicalization rules (spec §4.4.a).
type Attribute struct {
	Name        string
	Type        buildpb.AttrType
	StringValue string
	BoolValue   bool
	IntValue    int64
	ListValue   []string
}

// RuleTarget is a Rule variant of Target (spec §3).
type RuleTarget struct {
	Class      string
	Attributes []Attribute
	// Deps are the dependency labels collected from this rule's
	// label-typed and label-list-typed attributes, in attribute-discovery
	// order with duplicates still present; the hash engine sorts and
	// dedups them per spec §4.4.
	Deps []label.Label
}

// SourceTarget is a SourceFile variant of Target (spec §3).
type SourceTarget struct {
	// Refs are subinclude/load labels the source file references.
	Refs []label.Label
}

// GeneratedTarget is a GeneratedFile variant of Target (spec §3).
type GeneratedTarget struct {
	Generator label.Label
}

// Target is the tagged union over the three Bazel target variants.
type Target struct {
	Kind      label.Kind
	Rule      *RuleTarget
	Source    *SourceTarget
	Generated *GeneratedTarget
}

// Stats counts targets folded into the graph, for diagnostic logging only;
// it never influences a hash (spec §5: hash is a pure function of graph +
// seed inputs).
type Stats struct {
	Rules          int
	SourceFiles    int
	GeneratedFiles int
}

// BazelGraph is the in-memory target graph (spec §3). It is a DAG by
// construction from Bazel's own output; the hash engine still validates
// acyclicity defensively (spec §9).
type BazelGraph struct {
	Targets map[label.Label]*Target
	// GeneratorOf maps every GeneratedFile label to its owning Rule label,
	// the auxiliary mapping spec §3 calls out separately from Targets.
	GeneratorOf map[label.Label]label.Label
	Stats       Stats
}

// New returns an empty graph ready for Add calls.
func New() *BazelGraph {
	return &BazelGraph{
		Targets:     make(map[label.Label]*Target),
		GeneratorOf: make(map[label.Label]label.Label),
	}
}

// Build folds a sequence of decoded streamed-proto targets into a BazelGraph.
// It is the sole consumer of buildpb.DecodeStream's lazy sequence, so a
// malformed target fails the whole build rather than producing a partial,
// silently-wrong graph.
func Build(seq func(yield func(*buildpb.Target, error) bool)) (*BazelGraph, error) {
	g := New()
	var buildErr error
	seq(func(t *buildpb.Target, err error) bool {
		if err != nil {
			buildErr = err
			return false
		}
		if addErr := g.add(t); addErr != nil {
			buildErr = addErr
			return false
		}
		return true
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return g, nil
}

func (g *BazelGraph) add(t *buildpb.Target) error {
	switch {
	case t.Rule != nil:
		return g.addRule(t.Rule)
	case t.SourceFile != nil:
		return g.addSourceFile(t.SourceFile)
	case t.GeneratedFile != nil:
		return g.addGeneratedFile(t.GeneratedFile)
	default:
		log.Printf("skipping target with no Rule/SourceFile/GeneratedFile payload (type=%d)", t.Type)
		return nil
	}
}

func (g *BazelGraph) addRule(r *buildpb.Rule) error {
	name, err := label.Normalize(r.Name)
	if err != nil {
		return err
	}

	attrs := make([]Attribute, 0, len(r.Attribute))
	var deps []label.Label
	for _, a := range r.Attribute {
		attr := Attribute{
			Name:        a.Name,
			Type:        a.Type,
			StringValue: a.StringValue,
			BoolValue:   a.BoolValue,
			IntValue:    a.IntValue,
			ListValue:   a.ListValue,
		}
		switch a.Type {
		case buildpb.AttrLabel:
			dep, err := label.Normalize(a.StringValue)
			if err != nil {
				return fmt.Errorf("rule %s attribute %s: %w", name, a.Name, err)
			}
			attr.StringValue = string(dep)
			deps = append(deps, dep)
		case buildpb.AttrLabelList:
			normalized := make([]string, 0, len(a.ListValue))
			for _, raw := range a.ListValue {
				dep, err := label.Normalize(raw)
				if err != nil {
					return fmt.Errorf("rule %s attribute %s: %w", name, a.Name, err)
				}
				normalized = append(normalized, string(dep))
				deps = append(deps, dep)
			}
			attr.ListValue = normalized
		}
		attrs = append(attrs, attr)
	}

	g.Targets[name] = &Target{
		Kind: label.Rule,
		Rule: &RuleTarget{
			Class:      r.RuleClass,
			Attributes: attrs,
			Deps:       deps,
		},
	}
	g.Stats.Rules++
	return nil
}

func (g *BazelGraph) addSourceFile(sf *buildpb.SourceFile) error {
	name, err := label.Normalize(sf.Name)
	if err != nil {
		return err
	}
	refs := make([]label.Label, 0, len(sf.Subinclude))
	for _, raw := range sf.Subinclude {
		ref, err := label.Normalize(raw)
		if err != nil {
			return fmt.Errorf("source file %s subinclude: %w", name, err)
		}
		refs = append(refs, ref)
	}
	g.Targets[name] = &Target{
		Kind:   label.SourceFile,
		Source: &SourceTarget{Refs: refs},
	}
	g.Stats.SourceFiles++
	return nil
}

func (g *BazelGraph) addGeneratedFile(gf *buildpb.GeneratedFile) error {
	name, err := label.Normalize(gf.Name)
	if err != nil {
		return err
	}
	generator, err := label.Normalize(gf.GeneratingRule)
	if err != nil {
		return err
	}
	g.Targets[name] = &Target{
		Kind:      label.GeneratedFile,
		Generated: &GeneratedTarget{Generator: generator},
	}
	g.GeneratorOf[name] = generator
	g.Stats.GeneratedFiles++
	return nil
}

// Lookup returns the Target for a label and whether it exists. A dependency
// absent from the graph is, per spec §4.4, hashed as an opaque external
// label rather than treated as an error — callers decide that policy, this
// just reports presence.
func (g *BazelGraph) Lookup(l label.Label) (*Target, bool) {
	t, ok := g.Targets[l]
	return t, ok
}
