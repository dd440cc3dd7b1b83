// Package test carries the shared pieces of the cross-package end-to-end
// tests. Run with `go test -p=N ./test/...` to exercise broker election and
// client mode across test processes.
package test

import (
	"context"
	"testing"
	"time"
)

const Condition = "shared-condition"

func Context(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	t.Cleanup(cancel)
	return ctx
}
