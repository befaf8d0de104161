// Package ir provides the value and type vocabulary shared by the source and
// target IRs of the lowering engine.
//
// This package contains data definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value is a sealed tagged union; accessors never coerce between variants
//   - DType translation between the two IRs goes through explicit code tables
//   - Every engine failure is a *LoweringError carrying an ErrorCode
//   - Canonical JSON (sorted keys, NFC strings) is the only serialization used for hashing
package ir
