// Package internal provides the core engine for contract-based bounded
// verification.
//
// The engine ties the pipeline together: it parses annotated source into
// a program snapshot, resolves write sets through the alias oracle,
// instruments contracted functions and harnesses into their checking
// forms, and hands the resulting proof obligations to a checker backend.
//
// Key components:
//
// Engine: coordinates one verification run over a program snapshot. It
// validates stub pairings up front, derives obligations per target, and
// dispatches them to the configured backend, falling back to bounded
// enumeration when the backend cannot handle a target.
//
// Report: the per-target outcome, pairing each obligation with its
// verdict and, on failure, a rendered counterexample.
//
// Watcher: re-verifies annotated files as they change on disk.
//
// Cache: persists reports across runs, keyed by file content and the
// option fingerprint.
//
// SkipManager: honors //skip directives in annotated source, suppressing
// obligations at marked lines.
//
// The subpackages hold the pipeline stages: parser (annotated source to
// IR), ir (program snapshots and expressions), frame (write-set
// resolution and the alias oracle), transform (checking and replacement
// forms, loop abstraction), compat (stub signature compatibility), exec
// (the bounded checker and backends), and types (obligations, results,
// positions).
//
// This package is intended for internal use within the verifier; the
// public entry points live in the verify package.
package internal
