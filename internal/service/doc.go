// Package service contains the orchestration layer between transport and
// the execution core: precondition checks, per-actor rate limiting, async
// run lifecycle and completion event emission.
package service
