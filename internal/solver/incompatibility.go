package solver

import "strings"

// incompatKind records why an incompatibility exists.
type incompatKind int

const (
	kindRoot       incompatKind = iota // a root requirement
	kindDependency                     // a package version's dependency edge
	kindNoVersions                     // no candidate matches a range
	kindDerived                        // learned by conflict resolution
)

// Incompatibility is a conjunction of terms that cannot all hold.
// Derived incompatibilities reference their two causes by arena index;
// the arena (a flat slice on the solver) owns every node, so the cause
// DAG needs no shared pointers.
type Incompatibility struct {
	terms []Term
	kind  incompatKind

	// arena indexes of the two causes, valid when kind == kindDerived.
	causeLeft  int
	causeRight int

	// depender/dependee describe kindDependency edges for prose.
	depender string
	dependee string
}

// termFor returns the term constraining pkg, if any.
func (inc *Incompatibility) termFor(pkg string) (Term, bool) {
	for _, t := range inc.terms {
		if t.pkg == pkg {
			return t, true
		}
	}
	return Term{}, false
}

// isFailure reports whether the incompatibility proves the root
// requirements unsatisfiable: no terms at all, or a single term about
// the root package.
func (inc *Incompatibility) isFailure(rootPkg string) bool {
	if len(inc.terms) == 0 {
		return true
	}
	return len(inc.terms) == 1 && inc.terms[0].pkg == rootPkg
}

func (inc *Incompatibility) String() string {
	parts := make([]string, len(inc.terms))
	for i, t := range inc.terms {
		parts[i] = t.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// arena owns every incompatibility created during one solve.
type arena struct {
	nodes []Incompatibility
}

func (a *arena) add(inc Incompatibility) int {
	a.nodes = append(a.nodes, inc)
	return len(a.nodes) - 1
}

func (a *arena) get(id int) *Incompatibility {
	return &a.nodes[id]
}

// mergeTerms collapses multiple terms about one package into their
// intersection, preserving term order of first appearance.
func mergeTerms(terms []Term) []Term {
	var out []Term
	for _, t := range terms {
		found := false
		for i := range out {
			if out[i].pkg == t.pkg {
				out[i] = out[i].intersect(t)
				found = true
				break
			}
		}
		if !found {
			out = append(out, t)
		}
	}
	return out
}

func dependencyIncompatibility(pkg string, pkgSet VersionSet, dep string, depSet VersionSet, preOK bool) Incompatibility {
	self := newTerm(pkg, pkgSet, true)
	target := newTerm(dep, depSet, true)
	target.preOK = preOK
	return Incompatibility{
		terms:    []Term{self, target.Negate()},
		kind:     kindDependency,
		depender: pkg,
		dependee: dep,
	}
}

func noVersionsIncompatibility(t Term) Incompatibility {
	return Incompatibility{terms: []Term{t}, kind: kindNoVersions}
}

func rootIncompatibility(rootPkg string, dep string, depSet VersionSet, preOK bool) Incompatibility {
	self := newTerm(rootPkg, FullSet(), true)
	target := newTerm(dep, depSet, true)
	target.preOK = preOK
	return Incompatibility{
		terms:    []Term{self, target.Negate()},
		kind:     kindRoot,
		depender: rootPkg,
		dependee: dep,
	}
}

func derivedIncompatibility(terms []Term, left, right int) Incompatibility {
	return Incompatibility{
		terms:      mergeTerms(terms),
		kind:       kindDerived,
		causeLeft:  left,
		causeRight: right,
	}
}
