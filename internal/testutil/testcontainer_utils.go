// Package testutil starts shared throwaway containers for integration tests.
// Each container is started at most once per test binary; tests are skipped
// in -short mode or when no container runtime is reachable.
package testutil

import (
	"testing"
)

// skipIfUnavailable skips t when containers are not wanted or failed to start.
func skipIfUnavailable(t *testing.T, name string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", name, err)
	}
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}
}
