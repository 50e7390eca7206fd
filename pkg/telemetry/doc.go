// Package telemetry wires OpenTelemetry exporters and meters for the forms knot.
//
// It centralises trace provider setup, records dispatch metrics, and offers
// helpers that annotate spans with dispatch outcomes while keeping correlation
// markers and submitted form data out of exported attributes.
package telemetry
