// Package tracking implements the per-recipient engagement state machine.
//
// Every public trigger (open, click, submit) resolves a token, applies the
// per-client budget, then records at most one event of its type and
// advances the recipient status forward inside a single row-locked unit of
// work. The dispatcher records sends and bounces through the same path so
// every status mutation goes through one place.
package tracking
