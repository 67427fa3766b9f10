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

// Package buildpb models the subset of Bazel's streamed "build.proto"
// family of messages (Target, Rule, Attribute, SourceFile, GeneratedFile)
// that the hash engine needs, and decodes them field-by-field with
// google.golang.org/protobuf/encoding/protowire rather than through
// generated, reflection-backed message types. This keeps every unrecognized
// field's raw bytes around (spec §4.2: "unknown fields are preserved as raw
// bytes so future Bazel versions remain decodable") instead of silently
// dropping them the way a naive struct-tag unmarshal would.
//
// Field numbers follow Bazel's public build.proto (blaze_query.proto)
// message layout.
package buildpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// AttrType is Attribute's value-type discriminator (spec §4.4.a).
type AttrType int

const (
	AttrUnknown AttrType = iota
	AttrString
	AttrBool
	AttrInt
	AttrStringList
	AttrLabel
	AttrLabelList
)

// Attribute is a single rule attribute as decoded off the wire.
type Attribute struct {
	Name        string
	Type        AttrType
	StringValue string
	BoolValue   bool
	IntValue    int64
	ListValue   []string
}

// Rule is a Bazel rule target: a rule class plus its attribute map.
type Rule struct {
	Name      string
	RuleClass string
	Attribute []Attribute
	// Unknown carries raw, unrecognized top-level field bytes so that a
	// newer Bazel schema never silently loses data it didn't ask to read.
	Unknown []byte
}

// SourceFile is a source-file target: the label of a file on disk plus the
// subinclude/load labels it references.
type SourceFile struct {
	Name       string
	Subinclude []string
	Unknown    []byte
}

// GeneratedFile is a generated-file target: the label of its generating rule.
type GeneratedFile struct {
	Name           string
	GeneratingRule string
	Unknown        []byte
}

// Discriminator mirrors Target.Discriminator in build.proto.
type Discriminator int32

const (
	DiscriminatorRule Discriminator = iota
	DiscriminatorSourceFile
	DiscriminatorGeneratedFile
	DiscriminatorPackageGroup
	DiscriminatorEnvironmentGroup
)

// Target is one decoded streamed-proto message.
type Target struct {
	Type          Discriminator
	Rule          *Rule
	SourceFile    *SourceFile
	GeneratedFile *GeneratedFile
	Unknown       []byte
}

// Top-level Target field numbers (build.proto Target message).
const (
	fieldTargetType          = 1
	fieldTargetRule          = 2
	fieldTargetSourceFile    = 3
	fieldTargetGeneratedFile = 4
)

// Rule field numbers.
const (
	fieldRuleName      = 1
	fieldRuleClass     = 2
	fieldRuleAttribute = 4
)

// Attribute field numbers.
const (
	fieldAttrName        = 1
	fieldAttrType        = 2
	fieldAttrStringValue = 3
	fieldAttrIntValue    = 4
	fieldAttrStringList  = 5
	fieldAttrBoolValue   = 6
)

// SourceFile field numbers.
const (
	fieldSourceName       = 1
	fieldSourceSubinclude = 2
)

// GeneratedFile field numbers.
const (
	fieldGeneratedName           = 1
	fieldGeneratedGeneratingRule = 2
)

// Attribute.Discriminator wire values (build.proto Attribute.Discriminator),
// restricted to the value shapes spec §4.4.a canonicalizes.
const (
	attrDiscString     = 2
	attrDiscLabel      = 3
	attrDiscStringList = 5
	attrDiscBoolean    = 14
	attrDiscLabelList  = 12
	attrDiscInteger    = 1
)

// DecodeTarget decodes a single Target message from its raw bytes (already
// stripped of its length-delimited-varint frame by the stream decoder).
func DecodeTarget(data []byte) (*Target, error) {
	t := &Target{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest := data[n:]
		switch num {
		case fieldTargetType:
			v, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			t.Type = Discriminator(v)
			data = rest[m:]
		case fieldTargetRule:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r, err := decodeRule(v)
			if err != nil {
				return nil, fmt.Errorf("decoding Rule: %w", err)
			}
			t.Rule = r
			data = rest[m:]
		case fieldTargetSourceFile:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			sf, err := decodeSourceFile(v)
			if err != nil {
				return nil, fmt.Errorf("decoding SourceFile: %w", err)
			}
			t.SourceFile = sf
			data = rest[m:]
		case fieldTargetGeneratedFile:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			gf, err := decodeGeneratedFile(v)
			if err != nil {
				return nil, fmt.Errorf("decoding GeneratedFile: %w", err)
			}
			t.GeneratedFile = gf
			data = rest[m:]
		default:
			consumed, m := consumeField(data, n, rest, num, typ)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			t.Unknown = append(t.Unknown, consumed...)
			data = data[m:]
		}
	}
	return t, nil
}

func decodeRule(data []byte) (*Rule, error) {
	r := &Rule{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest := data[n:]
		switch num {
		case fieldRuleName:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r.Name = string(v)
			data = rest[m:]
		case fieldRuleClass:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r.RuleClass = string(v)
			data = rest[m:]
		case fieldRuleAttribute:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			attr, err := decodeAttribute(v)
			if err != nil {
				return nil, fmt.Errorf("decoding Attribute: %w", err)
			}
			r.Attribute = append(r.Attribute, *attr)
			data = rest[m:]
		default:
			consumed, m := consumeField(data, n, rest, num, typ)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			r.Unknown = append(r.Unknown, consumed...)
			data = data[m:]
		}
	}
	return r, nil
}

func decodeAttribute(data []byte) (*Attribute, error) {
	a := &Attribute{}
	var discriminator int64 = -1
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest := data[n:]
		switch num {
		case fieldAttrName:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			a.Name = string(v)
			data = rest[m:]
		case fieldAttrType:
			v, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			discriminator = int64(v)
			data = rest[m:]
		case fieldAttrStringValue:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			a.StringValue = string(v)
			data = rest[m:]
		case fieldAttrIntValue:
			v, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			a.IntValue = int64(v)
			data = rest[m:]
		case fieldAttrStringList:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			a.ListValue = append(a.ListValue, string(v))
			data = rest[m:]
		case fieldAttrBoolValue:
			v, m := protowire.ConsumeVarint(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			a.BoolValue = v != 0
			data = rest[m:]
		default:
			_, m := consumeField(data, n, rest, num, typ)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			data = data[m:]
		}
	}
	a.Type = attrTypeFromDiscriminator(discriminator)
	return a, nil
}

func attrTypeFromDiscriminator(d int64) AttrType {
	switch d {
	case attrDiscString:
		return AttrString
	case attrDiscLabel:
		return AttrLabel
	case attrDiscStringList:
		return AttrStringList
	case attrDiscLabelList:
		return AttrLabelList
	case attrDiscBoolean:
		return AttrBool
	case attrDiscInteger:
		return AttrInt
	default:
		return AttrUnknown
	}
}

func decodeSourceFile(data []byte) (*SourceFile, error) {
	sf := &SourceFile{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest := data[n:]
		switch num {
		case fieldSourceName:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			sf.Name = string(v)
			data = rest[m:]
		case fieldSourceSubinclude:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			sf.Subinclude = append(sf.Subinclude, string(v))
			data = rest[m:]
		default:
			consumed, m := consumeField(data, n, rest, num, typ)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			sf.Unknown = append(sf.Unknown, consumed...)
			data = data[m:]
		}
	}
	return sf, nil
}

func decodeGeneratedFile(data []byte) (*GeneratedFile, error) {
	gf := &GeneratedFile{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		rest := data[n:]
		switch num {
		case fieldGeneratedName:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			gf.Name = string(v)
			data = rest[m:]
		case fieldGeneratedGeneratingRule:
			v, m := protowire.ConsumeBytes(rest)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			gf.GeneratingRule = string(v)
			data = rest[m:]
		default:
			consumed, m := consumeField(data, n, rest, num, typ)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			gf.Unknown = append(gf.Unknown, consumed...)
			data = data[m:]
		}
	}
	return gf, nil
}

// consumeField skips one field's value, returning the raw bytes of the
// whole tag+value so callers can stash it verbatim into an Unknown slice.
// tagLen is the byte length of the tag already consumed by ConsumeTag, and
// rest is data immediately following that tag.
func consumeField(data []byte, tagLen int, rest []byte, num protowire.Number, typ protowire.Type) ([]byte, int) {
	var valLen int
	switch typ {
	case protowire.VarintType:
		_, valLen = protowire.ConsumeVarint(rest)
	case protowire.Fixed32Type:
		_, valLen = protowire.ConsumeFixed32(rest)
	case protowire.Fixed64Type:
		_, valLen = protowire.ConsumeFixed64(rest)
	case protowire.BytesType:
		_, valLen = protowire.ConsumeBytes(rest)
	case protowire.StartGroupType:
		_, valLen = protowire.ConsumeGroup(num, rest)
	default:
		return nil, -1
	}
	if valLen < 0 {
		return nil, valLen
	}
	total := tagLen + valLen
	return data[:total], total
}
