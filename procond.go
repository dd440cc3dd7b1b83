// Package procond hosts named cross-process condition variables.
//
// The condition-variable protocol itself lives in procond/waiter. This
// package supplies the surrounding machinery: a Registry that either becomes
// the broker hosting the shared condition objects or connects to the broker
// another process launched, a bbolt journal of protocol events, and the
// HTTP plumbing between them. Processes sharing one registry directory
// coordinate through the same set of condition objects.
package procond

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/lestrrat-go/option"
	"go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"

	"procond/logs"
)

type (
	// Registry is the entry point. The first process to open the registry
	// directory becomes the broker and hosts the condition objects; later
	// processes connect to it.
	Registry struct {
		clientID string
		_cfg     config
		_mu      sync.RWMutex
		cs       condSource
		_stop    func()
	}

	// Cond is a handle for one named condition object hosted by the
	// registry's broker.
	Cond struct {
		_r    *Registry
		_name string
	}

	config struct {
		dbFile      string
		addrFile    string
		retryPolicy backoff.Policy
		httpCli     *http.Client
	}
)

type (
	// NewOption represents an option for [New].
	NewOption struct {
		option.Interface
	}
	identOptionRetryPolicy struct{}
	identOptionHTTPClient  struct{}
)

// WithRetryPolicy specifies the retry policy of the bootstrap connection to
// the broker. For example, interval, exponential-backoff and max retry.
// For detailed settings, see [backoff.NewExponentialPolicy] or
// [backoff.NewConstantPolicy].
func WithRetryPolicy(p backoff.Policy) *NewOption {
	return &NewOption{
		Interface: option.New(identOptionRetryPolicy{}, p),
	}
}

// WithHTTPClient specifies the [http.Client] used for communication with the
// broker process. If this process launches the broker, the client may not be
// used. Do not set a client timeout shorter than the wait timeouts you
// intend to use.
func WithHTTPClient(c *http.Client) *NewOption {
	return &NewOption{
		Interface: option.New(identOptionHTTPClient{}, c),
	}
}

const (
	EnvExecutionID = "PROCOND_EXECUTION_ID"
)

func registryDir(base string) (string, error) {
	if !filepath.IsAbs(base) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		base = filepath.Join(wd, base)
	}
	// Get execution ID: processes sharing a parent share the registry.
	executionID := strconv.Itoa(os.Getppid())
	if id, ok := os.LookupEnv(EnvExecutionID); ok {
		executionID = id
	}

	return filepath.Join(base, executionID), nil
}

// New creates a [Registry] rooted at the given directory. Every process that
// wants to share condition objects must specify the same location.
//
// The registry writes `events.db` (the protocol journal, also the broker
// election lock) and `addr` (the broker address) under
// `${dir}/${executionID}`. `executionID` defaults to [os.Getppid]; set the
// PROCOND_EXECUTION_ID environment variable to override it.
func New(dir string, opts ...*NewOption) (*Registry, error) {
	d, err := registryDir(dir)
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(d, 0755); err != nil {
		return nil, fmt.Errorf("procond: failed to prepare registry directory: %w", err)
	}

	cfg := config{
		dbFile:   filepath.Join(d, "events.db"),
		addrFile: filepath.Join(d, "addr"),
		retryPolicy: backoff.NewConstantPolicy(
			backoff.WithMaxRetries(10),
			backoff.WithInterval(time.Millisecond*100),
		),
		httpCli: &http.Client{},
	}

	// Apply options.
	for _, opt := range opts {
		switch opt.Ident() {
		case identOptionRetryPolicy{}:
			cfg.retryPolicy = opt.Value().(backoff.Policy)
		case identOptionHTTPClient{}:
			cfg.httpCli = opt.Value().(*http.Client)
		}
	}

	r := &Registry{
		clientID: uuid.NewString(),
		_cfg:     cfg,
	}
	stop, err := r.start()
	if err != nil {
		return nil, err
	}
	r._stop = stop

	return r, nil
}

// Close releases the registry. If this process is the broker, every hosted
// condition object is force-released through its teardown path first, so no
// remote waiter is left blocked.
func (r *Registry) Close() {
	r._stop()
}

// Cond returns the handle for the named condition object. The object itself
// is created lazily by the broker on first use.
func (r *Registry) Cond(name string) *Cond {
	return &Cond{
		_r:    r,
		_name: name,
	}
}

func (r *Registry) source() condSource {
	r._mu.RLock()
	defer r._mu.RUnlock()
	return r.cs
}

// Wait blocks until the condition is notified, the timeout elapses, or the
// condition is closed. A zero timeout is a non-blocking attempt; a negative
// timeout waits until notified. It reports true only for a confirmed
// wake-up: timeouts and closed conditions report false without an error.
// The error channel is reserved for registry/transport failures.
func (c *Cond) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	return c._r.source().wait(ctx, c._name, c._r.clientID, timeout)
}

// Notify wakes one waiter of the condition and awaits its acknowledgment.
// With no waiters it reports true trivially.
func (c *Cond) Notify(ctx context.Context) (bool, error) {
	return c._r.source().notify(ctx, c._name, c._r.clientID)
}

// Broadcast wakes every current waiter of the condition and awaits their
// acknowledgments. With no waiters it reports true trivially.
func (c *Cond) Broadcast(ctx context.Context) (bool, error) {
	return c._r.source().broadcast(ctx, c._name, c._r.clientID)
}

// Close force-releases every waiter blocked on the condition and rejects new
// ones. Safe to call with no waiters and safe to call repeatedly.
func (c *Cond) Close(ctx context.Context) (bool, error) {
	return c._r.source().quit(ctx, c._name, c._r.clientID)
}

// Core interface for condition operations for both broker and client side.
type condSource interface {
	wait(ctx context.Context, name, operator string, timeout time.Duration) (bool, error)
	notify(ctx context.Context, name, operator string) (bool, error)
	broadcast(ctx context.Context, name, operator string) (bool, error)
	quit(ctx context.Context, name, operator string) (bool, error)
}

// errBrokerBusy is returned when the broker already serves the maximum
// number of concurrent blocking waits.
var errBrokerBusy = errors.New("procond: too many concurrent waiters")

// maxInflightWaits caps the blocking wait handlers held open by the broker.
const maxInflightWaits = 1024

// serverSideSource hosts the condition objects locally and journals every
// protocol event.
type serverSideSource struct {
	_conds    sync.Map // condition name -> *cond
	_store    logs.ResourceRecordStore[logs.CondRecord]
	_inflight *semaphore.Weighted
}

func newServerSideSource(db *bbolt.DB) (*serverSideSource, error) {
	store, err := logs.NewResourceRecordStore[logs.CondRecord](db)
	if err != nil {
		return nil, err
	}
	return &serverSideSource{
		_store:    store,
		_inflight: semaphore.NewWeighted(maxInflightWaits),
	}, nil
}

func (s *serverSideSource) cond(name string) *cond {
	v, _ := s._conds.LoadOrStore(name, newCond())
	return v.(*cond)
}

// record appends one journal entry. Best-effort: journal failures never
// alter protocol results.
func (s *serverSideSource) record(name, operator string, e logs.CondEvent) {
	_ = s._store.Put(name, func(r *logs.CondRecord, _ bool) {
		r.Logs = append(r.Logs, logs.CondLog{
			Event:     e,
			Operator:  operator,
			Timestamp: time.Now().UnixNano(),
		})
	})
}

func (s *serverSideSource) wait(_ context.Context, name, operator string, timeout time.Duration) (bool, error) {
	if !s._inflight.TryAcquire(1) {
		return false, errBrokerBusy
	}
	defer s._inflight.Release(1)

	c := s.cond(name)
	if c.closed() {
		s.record(name, operator, logs.CondEventWaitRejected)
		return false, nil
	}
	s.record(name, operator, logs.CondEventWaitEnter)
	ok := c.wait(waitAlways, timeout)
	if ok {
		s.record(name, operator, logs.CondEventWaitWoken)
	} else {
		s.record(name, operator, logs.CondEventWaitTimeout)
	}
	return ok, nil
}

func (s *serverSideSource) notify(_ context.Context, name, operator string) (bool, error) {
	c := s.cond(name)
	s.record(name, operator, logs.CondEventNotify)
	return c.notify(), nil
}

func (s *serverSideSource) broadcast(_ context.Context, name, operator string) (bool, error) {
	c := s.cond(name)
	s.record(name, operator, logs.CondEventBroadcast)
	return c.broadcast(), nil
}

func (s *serverSideSource) quit(_ context.Context, name, operator string) (bool, error) {
	c := s.cond(name)
	s.record(name, operator, logs.CondEventQuit)
	return c.close(), nil
}

// quitAll force-releases every hosted condition object. Called once, at
// broker shutdown, before the semaphores go away with the process.
func (s *serverSideSource) quitAll() {
	s._conds.Range(func(_, v any) bool {
		_ = v.(*cond).close()
		return true
	})
}

var _ condSource = (*serverSideSource)(nil)
