// Package campaign implements the campaign lifecycle (draft, active,
// paused, completed), target enrollment and the template catalogue.
//
// Launch validates its preconditions synchronously and only enqueues a
// dispatch job; sending happens in the worker pool.
package campaign
