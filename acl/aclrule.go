// Package acl implements the access-control rule model governing who may
// read, write, or own a bucket or drive, adapted from the per-bucket/
// per-cluster ACL model in authn/utils.go (Cluster.Access, Bucket.Access)
// but reshaped into the three-bit owner/read/write rule the original
// ObjectStore-facing ACLRule used.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package acl

import "github.com/svctrust/core/persist"

// tag distinguishes the Inherit sentinel from an explicit null rule even
// though both carry the (false, false, false) bit pattern. See DESIGN.md
// for why this tag exists instead of folding Inherit into Null.
type tag uint8

const (
	tagExplicit tag = iota
	tagInherit
)

// Rule is an owner/readable/writeable triple. The zero value is an
// explicit null rule (no permissions); use Inherit() for the sentinel
// that shares its bit pattern but is distinguishable in memory.
type Rule struct {
	isOwner     bool
	isReadable  bool
	isWriteable bool
	kind        tag
}

// Owner returns the rule granting ownership, read and write.
func Owner() Rule { return Rule{isOwner: true, isReadable: true, isWriteable: true} }

// Writer returns the rule granting read and write but not ownership.
func Writer() Rule { return Rule{isReadable: true, isWriteable: true} }

// Reader returns the rule granting read only.
func Reader() Rule { return Rule{isReadable: true} }

// Null returns the explicit no-permission rule.
func Null() Rule { return Rule{} }

// Inherit returns the sentinel rule that defers to a parent's ACL. It
// carries the same (false, false, false) bits as Null but is tagged so
// callers that distinguish "explicitly denied" from "not set here" can
// still tell them apart.
func Inherit() Rule { return Rule{kind: tagInherit} }

func (r Rule) IsOwner() bool     { return r.isOwner }
func (r Rule) IsReadable() bool  { return r.isReadable }
func (r Rule) IsWriteable() bool { return r.isWriteable }

// IsNull reports whether this rule grants no permissions at all. Inherit
// satisfies IsNull too (same bit pattern) — use IsInherit to tell them apart.
func (r Rule) IsNull() bool { return !r.isOwner && !r.isReadable && !r.isWriteable }

// IsInherit reports whether this rule is the Inherit sentinel.
func (r Rule) IsInherit() bool { return r.kind == tagInherit }

func (r *Rule) SetOwner(isOwner bool)         { r.isOwner = isOwner; r.kind = tagExplicit }
func (r *Rule) SetReadable(isReadable bool)   { r.isReadable = isReadable; r.kind = tagExplicit }
func (r *Rule) SetWriteable(isWriteable bool) { r.isWriteable = isWriteable; r.kind = tagExplicit }

// SetReadableWriteable sets both the read and write bits simultaneously.
func (r *Rule) SetReadableWriteable(v bool) {
	r.isReadable = v
	r.isWriteable = v
	r.kind = tagExplicit
}

func (r Rule) String() string {
	if r.IsNull() {
		if r.IsInherit() {
			return "Rule(inherit)"
		}
		return "Rule(no permission)"
	}
	s := ""
	if r.isOwner {
		s += "owner:"
	}
	if r.isWriteable {
		s += "writeable:"
	}
	if r.isReadable {
		s += "readable:"
	}
	return "Rule(" + s[:len(s)-1] + ")"
}

// data is the three-field wire shape; missing fields on load default to
// false, matching ACLRule.from_data's permissive read behaviour.
type data struct {
	IsOwner     bool `json:"is_owner"`
	IsReadable  bool `json:"is_readable"`
	IsWriteable bool `json:"is_writeable"`
	Inherit     bool `json:"inherit,omitempty"`
}

// ToData returns the JSON-serialisable representation of r, preserving the
// Inherit tag as an extra field so deserialisation recovers it.
func (r Rule) ToData() map[string]interface{} {
	return map[string]interface{}{
		"is_owner":     r.isOwner,
		"is_readable":  r.isReadable,
		"is_writeable": r.isWriteable,
		"inherit":      r.kind == tagInherit,
	}
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	return persist.Marshal(data{
		IsOwner:     r.isOwner,
		IsReadable:  r.isReadable,
		IsWriteable: r.isWriteable,
		Inherit:     r.kind == tagInherit,
	})
}

// UnmarshalJSON implements json.Unmarshaler, defaulting missing fields to
// false just like the original's from_data.
func (r *Rule) UnmarshalJSON(b []byte) error {
	var d data
	if err := persist.Unmarshal(b, &d); err != nil {
		return err
	}
	r.isOwner = d.IsOwner
	r.isReadable = d.IsReadable
	r.isWriteable = d.IsWriteable
	if d.Inherit {
		r.kind = tagInherit
	} else {
		r.kind = tagExplicit
	}
	return nil
}
