// Package events provides types and interfaces for loose coupling between
// the job execution core and outbound notification delivery.
//
// Services emit job lifecycle events without knowing which handlers will
// process them; the webhook dispatcher registers itself as a handler. This
// keeps event notification fire-and-forget from the job's perspective and
// avoids circular dependencies between the task and webhook layers.
package events
