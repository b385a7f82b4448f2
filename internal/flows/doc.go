// Package flows holds the Engine's multi-step procedures as plain functions.
//
// Each Run* function takes a dependency struct of function fields, so the
// login state machine and the recovery code lifecycle can be tested without
// a database, Redis or real argon2 costs. The Engine builds the deps and
// owns every resource they close over.
//
// This package must not import hostauth; flow-local types mirror the few
// fields each flow reads.
package flows
