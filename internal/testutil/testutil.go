// Package testutil holds the assertion helpers the HTTP handler tests share.
package testutil

import "testing"

// AssertStatusCode fails the test when the handler answered with the wrong
// status.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("handler answered %d, want %d", got, want)
	}
}

// AssertNoError stops the test on an unexpected error.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
