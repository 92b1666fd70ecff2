//go:build integration

// Package integration holds end-to-end tests that fetch archives from a real
// OCI registry.
//
// These tests require Docker and spin up a registry using testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
