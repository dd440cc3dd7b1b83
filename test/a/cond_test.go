package a

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"procond"
	"procond/test"
)

func TestCond(t *testing.T) {
	t.Parallel()

	r, err := procond.New("../.procond")
	assert.NilError(t, err)
	t.Cleanup(r.Close)

	c := r.Cond(test.Condition)

	// Wake whoever currently waits; trivially true otherwise.
	ok, err := c.Notify(test.Context(t))
	assert.NilError(t, err)
	assert.Assert(t, ok)

	// A short wait either times out or is woken by the sibling package.
	// The sibling may also tear its registry down mid-wait, so neither the
	// result nor the error is asserted.
	_, _ = c.Wait(test.Context(t), time.Millisecond*500)
}
