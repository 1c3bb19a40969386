// Package checkpoint persists snapshots of a session's mode, workflow and
// memory state so they survive a context compaction.
//
// Checkpoints are append-only. Each save is followed by a prune that keeps
// the newest MaxCheckpointsPerSession records for the session. Snapshot
// serializes creation per session with an advisory lock and shares one
// in-flight snapshot between concurrent callers for the same session.
package checkpoint
