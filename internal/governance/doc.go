// Package governance holds the runtime safety controls applied to adapter
// calls: per-adapter circuit breaking and deadline enforcement.
//
// The knot never retries a failed adapter call. These primitives only bound
// how long a call may take and stop hammering an adapter that keeps failing.
package governance
