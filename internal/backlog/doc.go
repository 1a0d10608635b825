// Package backlog defines the hierarchical work plan for one session:
// Phases contain Milestones contain Tasks contain Subtasks. Subtasks are
// the executable leaves; they carry estimates, dependencies, and a
// contract-shaped context scope.
//
// The package owns structural validation, the canonical YAML form,
// bottom-up status propagation, leaf dependency cycle detection, and
// node-level diffing between document revisions. It never touches the
// filesystem; persistence belongs to the session package.
package backlog
