// Package ir provides the foundational record types for Atlas.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the ledger record
// layout, the projected artifact model and the canonical encoding in one
// dependency-free layer.
//
// Key design constraints:
//   - NO float types in recorded payloads; scores are fixed-point (Score)
//   - All JSON tags use snake_case
//   - Ledger order is the sequence number only, never wall-clock time
//   - Checksums are computed over canonical JSON (RFC 8785)
package ir
