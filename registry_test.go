package procond

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/backoff/v2"
	"gotest.tools/v3/assert"
)

func asyncResult[T any](fn func() T) (result <-chan T) {
	ch := make(chan T)
	go func() {
		ch <- fn()
	}()
	return ch
}

func TestNew_DirExistsAsFile(t *testing.T) {
	t.Parallel()

	// Create a file where the registry directory should go.
	dir := filepath.Join(t.TempDir(), "file")
	assert.NilError(t, os.WriteFile(dir, []byte{'1'}, 0644))

	_, err := New(dir)
	var e *os.PathError
	assert.Assert(t, errors.As(err, &e))
	assert.Equal(t, e.Op, "mkdir")
}

func TestNew_NoBrokerToConnect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// Occupy the event database so serve() fails, and publish an address
	// nobody listens on.
	broker, err := New(dir)
	assert.NilError(t, err)

	d, err := registryDir(dir)
	assert.NilError(t, err)
	broker.Close() // Broker gone, database released after close...
	assert.NilError(t, os.WriteFile(filepath.Join(d, "addr"), []byte("127.0.0.1:1"), 0644))

	// ...so a new registry takes over as broker despite the stale address.
	r, err := New(dir, WithRetryPolicy(backoff.NewConstantPolicy(
		backoff.WithInterval(time.Millisecond*10),
		backoff.WithMaxRetries(3),
	)))
	assert.NilError(t, err)
	t.Cleanup(r.Close)
	_, isBroker := r.source().(*serverSideSource)
	assert.Assert(t, isBroker)
}

func TestRegistry_BrokerAndClient(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	broker, err := New(dir)
	assert.NilError(t, err)
	t.Cleanup(broker.Close)
	_, isBroker := broker.source().(*serverSideSource)
	assert.Assert(t, isBroker)

	// The event database is held by the broker, so the second registry
	// becomes a client of the published address.
	client, err := New(dir, WithHTTPClient(&http.Client{}))
	assert.NilError(t, err)
	t.Cleanup(client.Close)
	_, isClient := client.source().(*clientSideSource)
	assert.Assert(t, isClient)

	door := client.Cond("door")

	// Nothing to wake.
	ok, err := door.Notify(background)
	assert.NilError(t, err)
	assert.Assert(t, ok)

	// Nobody notifies: the wait times out.
	started := time.Now()
	ok, err = door.Wait(background, time.Millisecond*100)
	assert.NilError(t, err)
	assert.Assert(t, !ok)
	assert.Assert(t, time.Since(started) >= time.Millisecond*100)

	// A blocked remote waiter is woken by the broker side.
	woken := asyncResult(func() bool {
		ok, err := door.Wait(background, time.Second*5)
		return ok && err == nil
	})

	hosted := broker.source().(*serverSideSource).cond("door")
	for hosted._ctl.counter.Waiting() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(time.Millisecond * 50)

	ok, err = broker.Cond("door").Notify(background)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Assert(t, <-woken)

	// Broadcast with no waiters, then teardown, both through the client.
	ok, err = door.Broadcast(background)
	assert.NilError(t, err)
	assert.Assert(t, ok)
	ok, err = door.Close(background)
	assert.NilError(t, err)
	assert.Assert(t, ok)

	// The closed condition rejects further waits.
	ok, err = door.Wait(background, time.Millisecond*50)
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestRegistry_CloseReleasesRemoteWaiters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	broker, err := New(dir)
	assert.NilError(t, err)

	client, err := New(dir)
	assert.NilError(t, err)
	t.Cleanup(client.Close)

	woken := asyncResult(func() bool {
		ok, _ := client.Cond("hatch").Wait(background, time.Second*30)
		return ok
	})

	hosted := broker.source().(*serverSideSource).cond("hatch")
	for hosted._ctl.counter.Waiting() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(time.Millisecond * 50)

	// Stopping the broker force-releases every hosted condition, so the
	// remote waiter must come back, and with a failure result.
	broker.Close()
	assert.Assert(t, !<-woken)
}
