// Package tls terminates TLS for the knot listener.
//
// The server key pair is loaded from disk, checked for validity, and reloaded
// when either file changes so certificates can be rotated without a restart.
package tls
