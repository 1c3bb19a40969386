// Package hooks adapts harness lifecycle events to the continuity
// handlers.
//
// Supports stop, pre_compact, session_start, and user_prompt_submit. Each
// invocation reads one JSON object and produces one Output. Output always
// has Continue set: a failing handler is logged, never surfaced to the
// harness.
package hooks
