// Package api exposes the daemon over a localhost REST surface: the resolved
// wallet identity, the per-venue setup operations, the onboarding wizard, a
// health probe and the Prometheus metrics endpoint.
package api
