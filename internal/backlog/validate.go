package backlog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/backlogd/internal/fault"
)

// Validate checks every structural invariant of the tree and rejects the
// backlog on the first violation with a validation error tagged with op
// and carrying a machine-readable path to the offending field.
//
// Validation is pure: it reads the tree and nothing else. The dependency
// check is two-pass — first build the ID index, then verify references.
func Validate(b *Backlog, op string) error {
	if b == nil {
		return fault.Validation(op, "backlog is nil")
	}

	seen := make(map[string]string) // id -> path of first occurrence

	for pi, p := range b.Phases {
		ppath := fmt.Sprintf("phases[%d]", pi)
		if err := validateNode(op, ppath, p.ID, p.Title, p.Status, phaseIDPattern, "P{n}", seen); err != nil {
			return err
		}
		for mi, m := range p.Milestones {
			mpath := fmt.Sprintf("%s.milestones[%d]", ppath, mi)
			if err := validateNode(op, mpath, m.ID, m.Title, m.Status, milestoneIDPattern, "P{n}.M{m}", seen); err != nil {
				return err
			}
			if err := validateParent(op, mpath, m.ID, p.ID); err != nil {
				return err
			}
			for ti, t := range m.Tasks {
				tpath := fmt.Sprintf("%s.tasks[%d]", mpath, ti)
				if err := validateNode(op, tpath, t.ID, t.Title, t.Status, taskIDPattern, "P{n}.M{m}.T{t}", seen); err != nil {
					return err
				}
				if err := validateParent(op, tpath, t.ID, m.ID); err != nil {
					return err
				}
				for si, s := range t.Subtasks {
					spath := fmt.Sprintf("%s.subtasks[%d]", tpath, si)
					if err := validateNode(op, spath, s.ID, s.Title, s.Status, subtaskIDPattern, "P{n}.M{m}.T{t}.S{s}", seen); err != nil {
						return err
					}
					if err := validateParent(op, spath, s.ID, t.ID); err != nil {
						return err
					}
					if err := validateLeaf(op, spath, s); err != nil {
						return err
					}
				}
			}
		}
	}

	// Second pass: every dependency must resolve to a leaf in this tree.
	for _, s := range b.Leaves() {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fault.Validation(op, fmt.Sprintf("dependency %q of %s does not resolve", dep, s.ID)).
					With("path", seen[s.ID]+".depends_on").
					With("node_id", s.ID).
					With("dependency", dep)
			}
		}
	}

	return nil
}

func validateNode(op, path, id, title string, status Status, pattern *regexp.Regexp, form string, seen map[string]string) error {
	if id == "" {
		return fault.Validation(op, "missing id").With("path", path+".id")
	}
	if !pattern.MatchString(id) {
		return fault.Validation(op, fmt.Sprintf("id %q does not match required form %s", id, form)).
			With("path", path+".id")
	}
	if prev, dup := seen[id]; dup {
		return fault.Validation(op, fmt.Sprintf("duplicate id %q (first seen at %s)", id, prev)).
			With("path", path+".id")
	}
	seen[id] = path

	if title == "" {
		return fault.Validation(op, fmt.Sprintf("node %s is missing a title", id)).
			With("path", path+".title")
	}
	if !status.Valid() {
		return fault.Validation(op, fmt.Sprintf("node %s has invalid status %q", id, status)).
			With("path", path+".status")
	}
	return nil
}

// validateParent checks that a child's ID extends its parent's ID, which
// ties the level prefix of every ID to its depth in the tree.
func validateParent(op, path, id, parentID string) error {
	if !strings.HasPrefix(id, parentID+".") {
		return fault.Validation(op, fmt.Sprintf("id %q is not nested under parent %q", id, parentID)).
			With("path", path+".id")
	}
	return nil
}

func validateLeaf(op, path string, s *Subtask) error {
	if s.StoryPoints <= 0 {
		return fault.Validation(op, fmt.Sprintf("subtask %s must have positive story points", s.ID)).
			With("path", path+".story_points")
	}
	if !strings.HasPrefix(s.ContextScope, ContractHeader) {
		return fault.Validation(op, fmt.Sprintf("subtask %s context scope must begin with %q", s.ID, ContractHeader)).
			With("path", path+".context_scope")
	}
	return nil
}
