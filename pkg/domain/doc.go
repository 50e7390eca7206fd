// Package domain defines the core types and errors of the forms knot.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. All types in this package are:
//
// - Independent of infrastructure (no HTTP server, wire codec, telemetry, etc.)
// - Immutable value objects exchanged by value between pipeline stages
// - Testable in isolation without mocks
//
// Other packages (marker, adapter, knot, wire) implement the behaviour around these
// types and depend on them. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
