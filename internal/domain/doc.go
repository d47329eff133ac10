// Package domain defines the core business types for the phishing-simulation
// platform: campaigns, targets, their per-recipient enrollment and the
// engagement events recorded against it.
//
// Types in this package are pure value objects with no database or HTTP
// dependencies. They are the shared language between handlers, services,
// workers and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure functions on the types are allowed (status derivation, validation)
package domain
