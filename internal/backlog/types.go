package backlog

import "regexp"

// Status is the lifecycle state of a backlog node.
type Status string

const (
	StatusPlanned     Status = "planned"
	StatusResearching Status = "researching"
	StatusInProgress  Status = "in_progress"
	StatusComplete    Status = "complete"
	StatusBlocked     Status = "blocked"
)

// Valid reports whether s is one of the five defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusResearching, StatusInProgress, StatusComplete, StatusBlocked:
		return true
	}
	return false
}

// ContractHeader is the literal a leaf's context scope must begin with.
// Downstream executors parse only contract-shaped scopes; freeform prose
// is rejected at validation time.
const ContractHeader = "CONTRACT:"

// ID patterns per level. Each level is prefixed by a letter and joined
// with dots: P1, P1.M2, P1.M2.T3, P1.M2.T3.S4.
var (
	phaseIDPattern     = regexp.MustCompile(`^P[1-9]\d*$`)
	milestoneIDPattern = regexp.MustCompile(`^P[1-9]\d*\.M[1-9]\d*$`)
	taskIDPattern      = regexp.MustCompile(`^P[1-9]\d*\.M[1-9]\d*\.T[1-9]\d*$`)
	subtaskIDPattern   = regexp.MustCompile(`^P[1-9]\d*\.M[1-9]\d*\.T[1-9]\d*\.S[1-9]\d*$`)
)

// Backlog is the root persisted unit: an ordered sequence of phases.
type Backlog struct {
	Phases []*Phase `yaml:"phases"`
}

// Phase is the top level of the plan.
type Phase struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Status      Status       `yaml:"status"`
	Description string       `yaml:"description,omitempty"`
	Milestones  []*Milestone `yaml:"milestones"`
}

// Milestone groups tasks inside a phase.
type Milestone struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	Status      Status  `yaml:"status"`
	Description string  `yaml:"description,omitempty"`
	Tasks       []*Task `yaml:"tasks"`
}

// Task groups subtasks inside a milestone.
type Task struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Status      Status     `yaml:"status"`
	Description string     `yaml:"description,omitempty"`
	Subtasks    []*Subtask `yaml:"subtasks"`
}

// Subtask is an executable leaf.
type Subtask struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Status      Status `yaml:"status"`
	Description string `yaml:"description,omitempty"`

	// StoryPoints is a positive effort estimate.
	StoryPoints int `yaml:"story_points"`

	// DependsOn lists leaf IDs (sibling or cross-branch) that must be
	// complete before this leaf is eligible for dispatch.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// ContextScope is the structured execution contract handed to the
	// unit executor. It must begin with ContractHeader.
	ContextScope string `yaml:"context_scope"`
}

// New returns an empty backlog, the skeleton written at session creation.
func New() *Backlog {
	return &Backlog{Phases: []*Phase{}}
}

// Empty reports whether the backlog has no phases yet.
func (b *Backlog) Empty() bool {
	return b == nil || len(b.Phases) == 0
}

// Leaves returns all subtasks in depth-first pre-order.
func (b *Backlog) Leaves() []*Subtask {
	var leaves []*Subtask
	for _, p := range b.Phases {
		for _, m := range p.Milestones {
			for _, t := range m.Tasks {
				leaves = append(leaves, t.Subtasks...)
			}
		}
	}
	return leaves
}

// Leaf returns the subtask with the given ID, or nil.
func (b *Backlog) Leaf(id string) *Subtask {
	for _, s := range b.Leaves() {
		if s.ID == id {
			return s
		}
	}
	return nil
}
