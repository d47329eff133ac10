// Package analytics reduces the event log into campaign metrics: the
// sent/opened/clicked/submitted funnel, department breakdown, hourly
// timeline and time to engagement. Everything is recomputed per call from
// live data; nothing is cached or persisted.
package analytics
