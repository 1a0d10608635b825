// Package orchestrator drives execution of a loaded backlog.
//
// Traversal is depth-first pre-order over Phase, Milestone, Task,
// Subtask. A leaf is dispatched only when every declared dependency is
// complete; dispatch goes through the retry kernel, and exhausted
// retries mark the leaf blocked without disturbing its siblings. Status
// changes propagate up the ancestor chain after every leaf mutation, and
// persisted writes are coalesced so write amplification stays bounded
// while every leaf completion is durable before the run reports success.
package orchestrator
