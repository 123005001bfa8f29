// Package solver resolves gem dependency graphs with the PubGrub
// algorithm: unit propagation over learned incompatibilities, backtracking
// by decision level, and conflict-driven clause learning. On failure it
// renders the derivation chain as prose.
package solver

import (
	"strings"

	"github.com/contriboss/orb/internal/gemver"
)

// VersionSet is a union of disjoint, sorted version intervals. It is the
// algebraic form of a constraint set: intersection, union, complement and
// the subset/disjointness tests the solver needs.
type VersionSet struct {
	intervals []interval
}

// interval is a contiguous version range. An absent bound is infinite.
type interval struct {
	lo, hi       gemver.Version
	hasLo, hasHi bool
	loInc, hiInc bool
}

// FullSet admits every version.
func FullSet() VersionSet {
	return VersionSet{intervals: []interval{{}}}
}

// EmptySet admits nothing.
func EmptySet() VersionSet {
	return VersionSet{}
}

// SingletonSet admits exactly one version.
func SingletonSet(v gemver.Version) VersionSet {
	return VersionSet{intervals: []interval{
		{lo: v, hi: v, hasLo: true, hasHi: true, loInc: true, hiInc: true},
	}}
}

// SetFromConstraint converts one requirement into its interval form.
func SetFromConstraint(c gemver.Constraint) VersionSet {
	v := c.Version
	switch c.Op {
	case "=":
		return SingletonSet(v)
	case "!=":
		return SingletonSet(v).Complement()
	case ">":
		return VersionSet{intervals: []interval{{lo: v, hasLo: true}}}
	case ">=":
		return VersionSet{intervals: []interval{{lo: v, hasLo: true, loInc: true}}}
	case "<":
		return VersionSet{intervals: []interval{{hi: v, hasHi: true}}}
	case "<=":
		return VersionSet{intervals: []interval{{hi: v, hasHi: true, hiInc: true}}}
	case "~>":
		upper, _ := c.PessimisticUpper()
		return VersionSet{intervals: []interval{
			{lo: v, hasLo: true, loInc: true, hi: upper, hasHi: true},
		}}
	}
	return EmptySet()
}

// SetFromConstraints intersects a whole constraint set; the empty set of
// constraints admits anything.
func SetFromConstraints(cs gemver.ConstraintSet) VersionSet {
	out := FullSet()
	for _, c := range cs {
		out = out.Intersect(SetFromConstraint(c))
	}
	return out
}

func (iv interval) empty() bool {
	if !iv.hasLo || !iv.hasHi {
		return false
	}
	c := iv.lo.Compare(iv.hi)
	if c > 0 {
		return true
	}
	return c == 0 && !(iv.loInc && iv.hiInc)
}

func (iv interval) contains(v gemver.Version) bool {
	if iv.hasLo {
		c := v.Compare(iv.lo)
		if c < 0 || (c == 0 && !iv.loInc) {
			return false
		}
	}
	if iv.hasHi {
		c := v.Compare(iv.hi)
		if c > 0 || (c == 0 && !iv.hiInc) {
			return false
		}
	}
	return true
}

// cmpLo orders lower bounds; an absent bound is -infinity.
func cmpLo(a, b interval) int {
	switch {
	case !a.hasLo && !b.hasLo:
		return 0
	case !a.hasLo:
		return -1
	case !b.hasLo:
		return 1
	}
	if c := a.lo.Compare(b.lo); c != 0 {
		return c
	}
	switch {
	case a.loInc == b.loInc:
		return 0
	case a.loInc:
		return -1
	default:
		return 1
	}
}

// cmpHi orders upper bounds; an absent bound is +infinity.
func cmpHi(a, b interval) int {
	switch {
	case !a.hasHi && !b.hasHi:
		return 0
	case !a.hasHi:
		return 1
	case !b.hasHi:
		return -1
	}
	if c := a.hi.Compare(b.hi); c != 0 {
		return c
	}
	switch {
	case a.hiInc == b.hiInc:
		return 0
	case a.hiInc:
		return 1
	default:
		return -1
	}
}

func intersectIntervals(a, b interval) interval {
	out := a
	if cmpLo(b, a) > 0 {
		out.lo, out.hasLo, out.loInc = b.lo, b.hasLo, b.loInc
	}
	if cmpHi(b, a) < 0 {
		out.hi, out.hasHi, out.hiInc = b.hi, b.hasHi, b.hiInc
	}
	return out
}

// Intersect returns the set of versions in both sets.
func (s VersionSet) Intersect(o VersionSet) VersionSet {
	var out []interval
	for _, a := range s.intervals {
		for _, b := range o.intervals {
			iv := intersectIntervals(a, b)
			if !iv.empty() {
				out = append(out, iv)
			}
		}
	}
	return VersionSet{intervals: out}
}

// Complement returns the set of versions not in s.
func (s VersionSet) Complement() VersionSet {
	out := FullSet()
	for _, iv := range s.intervals {
		var pieces []interval
		if iv.hasLo {
			pieces = append(pieces, interval{hi: iv.lo, hasHi: true, hiInc: !iv.loInc})
		}
		if iv.hasHi {
			pieces = append(pieces, interval{lo: iv.hi, hasLo: true, loInc: !iv.hiInc})
		}
		out = out.Intersect(VersionSet{intervals: pieces})
	}
	return out
}

// Union returns the set of versions in either set.
func (s VersionSet) Union(o VersionSet) VersionSet {
	return s.Complement().Intersect(o.Complement()).Complement()
}

// IsEmpty reports whether the set admits no version.
func (s VersionSet) IsEmpty() bool {
	return len(s.intervals) == 0
}

// Contains reports whether v is in the set.
func (s VersionSet) Contains(v gemver.Version) bool {
	for _, iv := range s.intervals {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every version of s is also in o.
func (s VersionSet) SubsetOf(o VersionSet) bool {
	return s.Intersect(o.Complement()).IsEmpty()
}

// Intersects reports whether the two sets share any version.
func (s VersionSet) Intersects(o VersionSet) bool {
	return !s.Intersect(o).IsEmpty()
}

// String renders the set as gem requirement prose: "any", "= 1.2.3",
// ">= 3.0, < 4.0", with disjoint ranges joined by " or ".
func (s VersionSet) String() string {
	if s.IsEmpty() {
		return "no versions"
	}
	var parts []string
	for _, iv := range s.intervals {
		parts = append(parts, iv.String())
	}
	return strings.Join(parts, " or ")
}

func (iv interval) String() string {
	if !iv.hasLo && !iv.hasHi {
		return "any"
	}
	if iv.hasLo && iv.hasHi && iv.loInc && iv.hiInc && iv.lo.Compare(iv.hi) == 0 {
		return "= " + iv.lo.String()
	}
	var parts []string
	if iv.hasLo {
		op := ">"
		if iv.loInc {
			op = ">="
		}
		parts = append(parts, op+" "+iv.lo.String())
	}
	if iv.hasHi {
		op := "<"
		if iv.hiInc {
			op = "<="
		}
		parts = append(parts, op+" "+iv.hi.String())
	}
	return strings.Join(parts, ", ")
}
