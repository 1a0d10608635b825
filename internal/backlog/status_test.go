package backlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func setLeafStatuses(b *Backlog, statuses ...Status) {
	for i, s := range statuses {
		b.Phases[0].Milestones[0].Tasks[0].Subtasks[i].Status = s
	}
}

func TestReflow_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all planned stays planned", []Status{StatusPlanned, StatusPlanned, StatusPlanned}, StatusPlanned},
		{"all complete completes parent", []Status{StatusComplete, StatusComplete, StatusComplete}, StatusComplete},
		{"blocked sibling blocks parent", []Status{StatusComplete, StatusComplete, StatusBlocked}, StatusBlocked},
		{"one started marks in progress", []Status{StatusInProgress, StatusPlanned, StatusPlanned}, StatusInProgress},
		{"researching counts as started", []Status{StatusResearching, StatusPlanned, StatusPlanned}, StatusInProgress},
		{"partial completion is in progress", []Status{StatusComplete, StatusPlanned, StatusPlanned}, StatusInProgress},
		{"blocked outranks started", []Status{StatusBlocked, StatusInProgress, StatusComplete}, StatusBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testTree(3)
			setLeafStatuses(b, tt.statuses...)
			b.Reflow("P1.M1.T1.S1")

			task := b.Phases[0].Milestones[0].Tasks[0]
			assert.Equal(t, tt.want, task.Status)
		})
	}
}

func TestReflow_PropagatesToMilestoneAndPhase(t *testing.T) {
	b := testTree(2)
	setLeafStatuses(b, StatusComplete, StatusComplete)
	b.Reflow("P1.M1.T1.S2")

	assert.Equal(t, StatusComplete, b.Phases[0].Milestones[0].Tasks[0].Status)
	assert.Equal(t, StatusComplete, b.Phases[0].Milestones[0].Status)
	assert.Equal(t, StatusComplete, b.Phases[0].Status)
}

func TestReflow_OnlyTouchesTheLeafsChain(t *testing.T) {
	b := testTree(1)
	setLeafStatuses(b, StatusComplete)
	b.Phases[0].Milestones[0].Tasks = append(b.Phases[0].Milestones[0].Tasks, &Task{
		ID:       "P1.M1.T2",
		Title:    "other task",
		Status:   StatusPlanned,
		Subtasks: []*Subtask{testLeaf("P1.M1.T2.S1")},
	})
	b.Phases = append(b.Phases, &Phase{
		ID:     "P2",
		Title:  "other phase",
		Status: StatusPlanned,
	})

	b.Reflow("P1.M1.T1.S1")

	assert.Equal(t, StatusComplete, b.Phases[0].Milestones[0].Tasks[0].Status)
	assert.Equal(t, StatusPlanned, b.Phases[0].Milestones[0].Tasks[1].Status)
	// Milestone sees one complete and one planned task.
	assert.Equal(t, StatusInProgress, b.Phases[0].Milestones[0].Status)
	assert.Equal(t, StatusPlanned, b.Phases[1].Status)
}

func TestReflow_BlockedLeafBlocksAncestors(t *testing.T) {
	b := testTree(3)
	setLeafStatuses(b, StatusComplete, StatusComplete, StatusBlocked)
	b.Reflow("P1.M1.T1.S3")

	assert.Equal(t, StatusBlocked, b.Phases[0].Milestones[0].Tasks[0].Status)
	assert.Equal(t, StatusBlocked, b.Phases[0].Milestones[0].Status)
	assert.Equal(t, StatusBlocked, b.Phases[0].Status)
}
