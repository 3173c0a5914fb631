// Package testutil provides test helpers for mailroom tests.
//
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore)
//   - http_helpers.go: JSON request/response helpers for handler tests
package testutil
