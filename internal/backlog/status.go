package backlog

import "strings"

// Reflow recomputes the status of the ancestor chain of the given leaf.
// It walks only the chain containing the leaf, not the whole tree.
//
// Aggregation rule, in precedence order: a parent is complete iff all
// children are complete; blocked if any child is blocked; in progress if
// any child has started (researching, in progress, or complete); planned
// otherwise.
func (b *Backlog) Reflow(leafID string) {
	for _, p := range b.Phases {
		if !strings.HasPrefix(leafID, p.ID+".") {
			continue
		}
		for _, m := range p.Milestones {
			if !strings.HasPrefix(leafID, m.ID+".") {
				continue
			}
			for _, t := range m.Tasks {
				if !strings.HasPrefix(leafID, t.ID+".") {
					continue
				}
				t.Status = aggregate(subtaskStatuses(t))
			}
			m.Status = aggregate(taskStatuses(m))
		}
		p.Status = aggregate(milestoneStatuses(p))
	}
}

func aggregate(children []Status) Status {
	if len(children) == 0 {
		return StatusPlanned
	}

	allComplete := true
	anyBlocked := false
	anyStarted := false

	for _, s := range children {
		if s != StatusComplete {
			allComplete = false
		}
		switch s {
		case StatusBlocked:
			anyBlocked = true
		case StatusResearching, StatusInProgress, StatusComplete:
			anyStarted = true
		}
	}

	switch {
	case allComplete:
		return StatusComplete
	case anyBlocked:
		return StatusBlocked
	case anyStarted:
		return StatusInProgress
	default:
		return StatusPlanned
	}
}

func subtaskStatuses(t *Task) []Status {
	out := make([]Status, len(t.Subtasks))
	for i, s := range t.Subtasks {
		out[i] = s.Status
	}
	return out
}

func taskStatuses(m *Milestone) []Status {
	out := make([]Status, len(m.Tasks))
	for i, t := range m.Tasks {
		out[i] = t.Status
	}
	return out
}

func milestoneStatuses(p *Phase) []Status {
	out := make([]Status, len(p.Milestones))
	for i, m := range p.Milestones {
		out[i] = m.Status
	}
	return out
}
