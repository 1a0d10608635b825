package backlog

import "slices"

// ChangeKind classifies how a node differs between two revisions.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// NodeDelta describes one node's change between two backlog revisions.
type NodeDelta struct {
	ID     string
	Change ChangeKind

	// Fields names the changed fields for modified nodes.
	Fields []string
}

type flatNode struct {
	id          string
	title       string
	description string
	storyPoints int
	dependsOn   []string
	scope       string
	leaf        bool
}

// Diff compares two backlog revisions node-by-node (matched by ID) and
// classifies each node as added, removed, or modified. Status changes
// are execution progress, not plan changes, and are not reported.
func Diff(old, updated *Backlog) []NodeDelta {
	oldNodes, oldOrder := flatten(old)
	newNodes, newOrder := flatten(updated)

	var deltas []NodeDelta

	for _, id := range oldOrder {
		prev := oldNodes[id]
		next, ok := newNodes[id]
		if !ok {
			deltas = append(deltas, NodeDelta{ID: id, Change: ChangeRemoved})
			continue
		}
		if fields := changedFields(prev, next); len(fields) > 0 {
			deltas = append(deltas, NodeDelta{ID: id, Change: ChangeModified, Fields: fields})
		}
	}

	for _, id := range newOrder {
		if _, ok := oldNodes[id]; !ok {
			deltas = append(deltas, NodeDelta{ID: id, Change: ChangeAdded})
		}
	}

	return deltas
}

func changedFields(prev, next flatNode) []string {
	var fields []string
	if prev.title != next.title {
		fields = append(fields, "title")
	}
	if prev.description != next.description {
		fields = append(fields, "description")
	}
	if prev.leaf && next.leaf {
		if prev.storyPoints != next.storyPoints {
			fields = append(fields, "story_points")
		}
		if !slices.Equal(prev.dependsOn, next.dependsOn) {
			fields = append(fields, "depends_on")
		}
		if prev.scope != next.scope {
			fields = append(fields, "context_scope")
		}
	}
	return fields
}

func flatten(b *Backlog) (map[string]flatNode, []string) {
	nodes := make(map[string]flatNode)
	var order []string
	if b == nil {
		return nodes, order
	}

	add := func(n flatNode) {
		nodes[n.id] = n
		order = append(order, n.id)
	}

	for _, p := range b.Phases {
		add(flatNode{id: p.ID, title: p.Title, description: p.Description})
		for _, m := range p.Milestones {
			add(flatNode{id: m.ID, title: m.Title, description: m.Description})
			for _, t := range m.Tasks {
				add(flatNode{id: t.ID, title: t.Title, description: t.Description})
				for _, s := range t.Subtasks {
					add(flatNode{
						id:          s.ID,
						title:       s.Title,
						description: s.Description,
						storyPoints: s.StoryPoints,
						dependsOn:   s.DependsOn,
						scope:       s.ContextScope,
						leaf:        true,
					})
				}
			}
		}
	}
	return nodes, order
}
