// Package adapter resolves forms-processing capabilities to adapter endpoints
// and calls them.
//
// The Registry is populated once at startup and is read-only afterwards, so it
// is safe for concurrent use without locking. Invokers perform exactly one
// call per submission; nothing in this package retries.
package adapter
