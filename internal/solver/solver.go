package solver

import (
	"slices"

	"github.com/contriboss/orb/internal/gemver"
)

// rootPkg is the synthetic package standing for the project itself.
const rootPkg = "$$root"

// Dependency is one requirement of a package version.
type Dependency struct {
	Name        string
	Constraints gemver.ConstraintSet
}

// Source feeds the solver. Versions returns candidates newest first;
// Dependencies returns the exact requirement list of one version. Both
// may block on I/O; the solver itself never does.
type Source interface {
	Versions(name string) ([]gemver.Version, error)
	Dependencies(name string, version gemver.Version) ([]Dependency, error)
}

// ResolvedPackage is one entry of a successful resolution.
type ResolvedPackage struct {
	Name         string
	Version      gemver.Version
	Dependencies []Dependency
}

// ResolutionError carries the rendered explanation of an unsatisfiable
// constraint system.
type ResolutionError struct {
	Explanation string
}

func (e *ResolutionError) Error() string {
	return e.Explanation
}

// Solver holds the state of one resolution run.
type Solver struct {
	source   Source
	arena    arena
	partial  *partialSolution
	depCache map[string]map[string][]Dependency // pkg -> version -> deps

	// incompatsByPkg indexes arena ids by the packages their terms
	// mention, newest first for propagation.
	incompatsByPkg map[string][]int
}

// New creates a solver over a source.
func New(source Source) *Solver {
	return &Solver{
		source:         source,
		partial:        newPartialSolution(),
		depCache:       make(map[string]map[string][]Dependency),
		incompatsByPkg: make(map[string][]int),
	}
}

// Solve resolves the root requirements to one version per reachable
// package, or fails with a *ResolutionError carrying the explanation.
func Solve(source Source, roots []Dependency) ([]ResolvedPackage, error) {
	s := New(source)
	return s.solve(roots)
}

func (s *Solver) addIncompatibility(inc Incompatibility) int {
	id := s.arena.add(inc)
	for _, t := range s.arena.get(id).terms {
		s.incompatsByPkg[t.pkg] = append(s.incompatsByPkg[t.pkg], id)
	}
	return id
}

func (s *Solver) solve(roots []Dependency) ([]ResolvedPackage, error) {
	for _, root := range roots {
		set := SetFromConstraints(root.Constraints)
		s.addIncompatibility(rootIncompatibility(rootPkg, root.Name, set, root.Constraints.AdmitsPrerelease()))
	}

	rootVersion := gemver.MustParse("0")
	s.partial.decide(newTerm(rootPkg, SingletonSet(rootVersion), true))

	next := rootPkg
	for {
		if err := s.unitPropagation(next); err != nil {
			return nil, err
		}

		pkg, done, err := s.chooseNext()
		if err != nil {
			return nil, err
		}
		if done {
			return s.result(), nil
		}
		next = pkg
	}
}

// unitPropagation runs incompatibility checks to a fixed point starting
// from the given package.
func (s *Solver) unitPropagation(start string) error {
	changed := []string{start}
	for len(changed) > 0 {
		pkg := changed[len(changed)-1]
		changed = changed[:len(changed)-1]

		ids := s.incompatsByPkg[pkg]
		for i := len(ids) - 1; i >= 0; i-- {
			id := ids[i]
			inc := s.arena.get(id)

			unsatisfied := -1
			conflict := true
			for ti := range inc.terms {
				switch s.partial.relation(inc.terms[ti]) {
				case relationContradicted:
					conflict = false
					unsatisfied = -2
				case relationInconclusive:
					if unsatisfied == -1 {
						unsatisfied = ti
					} else {
						unsatisfied = -2
					}
					conflict = false
				}
				if unsatisfied == -2 {
					break
				}
			}

			switch {
			case conflict:
				learnedID, err := s.resolveConflict(id)
				if err != nil {
					return err
				}
				// After backtracking the learned clause is almost
				// satisfied: derive the negation of its one open term
				// and restart propagation there.
				learned := s.arena.get(learnedID)
				changed = changed[:0]
				for _, t := range learned.terms {
					if !s.partial.satisfies(t) {
						s.partial.derive(t.Negate(), learnedID)
						changed = append(changed, t.pkg)
						break
					}
				}
			case unsatisfied >= 0:
				t := inc.terms[unsatisfied]
				s.partial.derive(t.Negate(), id)
				changed = append(changed, t.pkg)
			}
			if conflict {
				break
			}
		}
	}
	return nil
}

// resolveConflict backtracks and learns a new incompatibility from the
// conflicting one. Returns the arena id of the (possibly new)
// incompatibility to propagate from.
func (s *Solver) resolveConflict(id int) (int, error) {
	for {
		inc := s.arena.get(id)
		if inc.isFailure(rootPkg) {
			return 0, &ResolutionError{Explanation: s.explain(id)}
		}

		var mostRecentTerm *Term
		var mostRecentSatisfier *assignment
		var difference *Term
		previousLevel := 1

		for ti := range inc.terms {
			t := inc.terms[ti]
			satisfier := s.partial.satisfier(t)
			if satisfier == nil {
				continue
			}

			switch {
			case mostRecentSatisfier == nil:
				mostRecentTerm = &inc.terms[ti]
				mostRecentSatisfier = satisfier
			case satisfier.index > mostRecentSatisfier.index:
				if mostRecentSatisfier.level > previousLevel {
					previousLevel = mostRecentSatisfier.level
				}
				mostRecentTerm = &inc.terms[ti]
				mostRecentSatisfier = satisfier
				difference = nil
			default:
				if satisfier.level > previousLevel {
					previousLevel = satisfier.level
				}
			}

			if mostRecentTerm == &inc.terms[ti] {
				// The satisfier may cover the term only partially; the
				// uncovered remainder acts as an extra cause.
				diff := mostRecentSatisfier.term.difference(*mostRecentTerm)
				if diff.set.IsEmpty() {
					difference = nil
				} else {
					difference = &diff
					if ds := s.partial.satisfier(diff.Negate()); ds != nil && ds.level > previousLevel {
						previousLevel = ds.level
					}
				}
			}
		}

		if mostRecentSatisfier == nil {
			// Nothing in the partial solution satisfies the conflict;
			// treat it as a root-level failure.
			return 0, &ResolutionError{Explanation: s.explain(id)}
		}

		if mostRecentSatisfier.decision || previousLevel < mostRecentSatisfier.level {
			s.partial.backtrack(previousLevel)
			return id, nil
		}

		// Resolve against the cause of the satisfying derivation.
		cause := s.arena.get(mostRecentSatisfier.cause)
		var terms []Term
		for ti := range inc.terms {
			if &inc.terms[ti] != mostRecentTerm {
				terms = append(terms, inc.terms[ti])
			}
		}
		for _, t := range cause.terms {
			if t.pkg != mostRecentSatisfier.term.pkg {
				terms = append(terms, t)
			}
		}
		if difference != nil {
			terms = append(terms, difference.Negate())
		}

		id = s.addIncompatibility(derivedIncompatibility(terms, id, mostRecentSatisfier.cause))
	}
}

// chooseNext picks the undecided package with the fewest candidates,
// decides its highest admissible version, and records the version's
// dependency incompatibilities. done is true when nothing is undecided.
func (s *Solver) chooseNext() (string, bool, error) {
	undecided := s.partial.undecided()
	if len(undecided) == 0 {
		return "", true, nil
	}

	// Fail-fast ordering: fewest matching candidates first.
	type choice struct {
		pkg        string
		candidates []gemver.Version
	}
	best := choice{}
	for _, pkg := range undecided {
		term, _ := s.partial.constraintFor(pkg)
		versions, err := s.source.Versions(pkg)
		if err != nil {
			return "", false, err
		}
		var matching []gemver.Version
		for _, v := range versions {
			if v.Prerelease() && !term.preOK {
				continue
			}
			if term.set.Contains(v) {
				matching = append(matching, v)
			}
		}
		if best.pkg == "" || len(matching) < len(best.candidates) {
			best = choice{pkg: pkg, candidates: matching}
		}
	}

	pkg := best.pkg
	term, _ := s.partial.constraintFor(pkg)

	if len(best.candidates) == 0 {
		s.addIncompatibility(noVersionsIncompatibility(newTerm(pkg, term.set, true)))
		return pkg, false, nil
	}

	version := best.candidates[0] // provider lists are newest first

	deps, err := s.dependenciesOf(pkg, version)
	if err != nil {
		return "", false, err
	}

	// Record the version's dependency clauses. If one of them is already
	// satisfied but for our own term, deciding would create an immediate
	// conflict; skip the decision and let propagation rule the version
	// out instead.
	conflict := false
	for _, dep := range deps {
		depSet := SetFromConstraints(dep.Constraints)
		id := s.addIncompatibility(dependencyIncompatibility(pkg, SingletonSet(version), dep.Name, depSet, dep.Constraints.AdmitsPrerelease()))

		othersSatisfied := true
		for _, t := range s.arena.get(id).terms {
			if t.pkg == pkg {
				continue
			}
			if !s.partial.satisfies(t) {
				othersSatisfied = false
			}
		}
		if othersSatisfied {
			conflict = true
		}
	}

	if !conflict {
		s.partial.decide(newTerm(pkg, SingletonSet(version), true))
	}
	return pkg, false, nil
}

func (s *Solver) dependenciesOf(pkg string, version gemver.Version) ([]Dependency, error) {
	if byVer, ok := s.depCache[pkg]; ok {
		if deps, ok := byVer[version.String()]; ok {
			return deps, nil
		}
	}
	deps, err := s.source.Dependencies(pkg, version)
	if err != nil {
		return nil, err
	}
	if s.depCache[pkg] == nil {
		s.depCache[pkg] = make(map[string][]Dependency)
	}
	s.depCache[pkg][version.String()] = deps
	return deps, nil
}

// result reads the decisions into a sorted resolved set.
func (s *Solver) result() []ResolvedPackage {
	var out []ResolvedPackage
	for pkg, idx := range s.partial.decisions {
		if pkg == rootPkg {
			continue
		}
		a := s.partial.assignments[idx]
		version := decisionVersion(a.term)
		deps := s.depCache[pkg][version.String()]
		out = append(out, ResolvedPackage{Name: pkg, Version: version, Dependencies: deps})
	}
	slices.SortFunc(out, func(a, b ResolvedPackage) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func decisionVersion(t Term) gemver.Version {
	// A decision term is always a singleton set.
	iv := t.set.intervals[0]
	return iv.lo
}
