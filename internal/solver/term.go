package solver

import "fmt"

// Term states that a package's version must (positive) or must not
// (negative) fall within a version set. Internally the set always holds
// the *allowed* versions, so negation complements the set and flips the
// polarity flag; polarity is kept for display and for deciding which
// packages are positively required.
type Term struct {
	pkg      string
	set      VersionSet
	positive bool

	// preOK marks that the originating constraint text named a
	// prerelease, admitting prerelease candidates for this package.
	preOK bool
}

func newTerm(pkg string, set VersionSet, positive bool) Term {
	return Term{pkg: pkg, set: set, positive: positive}
}

// Package returns the package the term constrains.
func (t Term) Package() string { return t.pkg }

// Negate inverts the term: the allowed set complements and the polarity
// flips.
func (t Term) Negate() Term {
	return Term{pkg: t.pkg, set: t.set.Complement(), positive: !t.positive, preOK: t.preOK}
}

// satisfies reports whether t being true forces other to be true
// (t's allowed versions are a subset of other's).
func (t Term) satisfies(other Term) bool {
	return t.pkg == other.pkg && t.set.SubsetOf(other.set)
}

// relation classifies other against t when t is known to hold.
func (t Term) relation(other Term) termRelation {
	switch {
	case t.set.SubsetOf(other.set):
		return relationSatisfied
	case !t.set.Intersects(other.set):
		return relationContradicted
	default:
		return relationInconclusive
	}
}

// intersect combines two terms about the same package. The result is
// positive if either input is.
func (t Term) intersect(other Term) Term {
	return Term{
		pkg:      t.pkg,
		set:      t.set.Intersect(other.set),
		positive: t.positive || other.positive,
		preOK:    t.preOK || other.preOK,
	}
}

// difference returns the part of t not covered by other.
func (t Term) difference(other Term) Term {
	return t.intersect(other.Negate())
}

func (t Term) String() string {
	if !t.positive {
		return fmt.Sprintf("not %s (%s)", t.pkg, t.set.Complement())
	}
	return fmt.Sprintf("%s (%s)", t.pkg, t.set)
}

type termRelation int

const (
	relationSatisfied termRelation = iota
	relationContradicted
	relationInconclusive
)
