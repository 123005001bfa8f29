package solver

import (
	"fmt"
	"strings"
)

// explain walks the cause DAG of the failing incompatibility and renders
// one sentence per derivation. External facts (root requirements,
// dependency edges, empty version ranges) terminate the recursion; the
// final sentence always closes with "version solving failed."
func (s *Solver) explain(id int) string {
	var lines []string

	var visit func(id int) string
	visit = func(id int) string {
		inc := s.arena.get(id)
		if inc.kind != kindDerived {
			return s.describe(id)
		}

		left := visit(inc.causeLeft)
		right := visit(inc.causeRight)
		conclusion := s.describe(id)
		lines = append(lines, fmt.Sprintf("And because %s and %s, %s.", left, right, conclusion))
		return conclusion
	}

	root := s.arena.get(id)
	if root.kind != kindDerived {
		return fmt.Sprintf("Because %s, version solving failed.", s.describe(id))
	}

	left := visit(root.causeLeft)
	right := visit(root.causeRight)
	final := fmt.Sprintf("So, because %s and %s, version solving failed.", left, right)

	if len(lines) == 0 {
		return final
	}

	// The first derivation opens the paragraph with "Because"; the rest
	// chain with "And because".
	lines[0] = "Because" + strings.TrimPrefix(lines[0], "And because")
	return strings.Join(append(lines, final), "\n")
}

// describe renders one incompatibility as a clause.
func (s *Solver) describe(id int) string {
	inc := s.arena.get(id)

	switch inc.kind {
	case kindRoot:
		if t, ok := inc.termFor(inc.dependee); ok {
			return fmt.Sprintf("the project depends on %s (%s)", inc.dependee, t.set.Complement())
		}
		return fmt.Sprintf("the project depends on %s", inc.dependee)

	case kindDependency:
		self, _ := inc.termFor(inc.depender)
		dep, _ := inc.termFor(inc.dependee)
		return fmt.Sprintf("%s (%s) depends on %s (%s)",
			inc.depender, self.set, inc.dependee, dep.set.Complement())

	case kindNoVersions:
		t := inc.terms[0]
		return fmt.Sprintf("no versions of %s match %s", t.pkg, t.set)
	}

	// Derived conclusions.
	terms := inc.terms
	switch {
	case inc.isFailure(rootPkg):
		return "version solving failed"
	case len(terms) == 1:
		t := terms[0]
		if t.positive {
			return fmt.Sprintf("%s (%s) is forbidden", t.pkg, t.set)
		}
		return fmt.Sprintf("%s (%s) is required", t.pkg, t.set.Complement())
	case len(terms) == 2 && terms[0].positive && !terms[1].positive:
		return fmt.Sprintf("%s (%s) requires %s (%s)",
			terms[0].pkg, terms[0].set, terms[1].pkg, terms[1].set.Complement())
	default:
		parts := make([]string, len(terms))
		for i, t := range terms {
			parts[i] = t.String()
		}
		return strings.Join(parts, " is incompatible with ")
	}
}
