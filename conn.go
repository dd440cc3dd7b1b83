package procond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"procond/logs"
)

// start decides the mode of this registry: the process that opens the event
// database exclusively becomes the broker; every other process connects to
// the address the broker published.
func (r *Registry) start() (func(), error) {
	if stop, err := r.serve(); err == nil {
		return stop, nil
	}

	c := r._cfg.retryPolicy.Start(context.Background())
	for {
		select {
		case <-c.Done():
			return nil, errors.New("procond: failed to connect broker or become one")
		case <-c.Next():
			addr, err := readAddr(r._cfg.addrFile)
			if err == nil && ping(r._cfg.httpCli, addr) == nil {
				r._mu.Lock()
				r.cs = &clientSideSource{
					_cfg:  r._cfg,
					_addr: addr,
				}
				r._mu.Unlock()
				return func() {}, nil
			}
			// The previous broker may have just stopped; try to take over.
			if stop, err := r.serve(); err == nil {
				return stop, nil
			}
		}
	}
}

// serve attempts to launch the broker. It fails fast when another process
// already holds the event database.
func (r *Registry) serve() (_ func(), err error) {
	db, err := bbolt.Open(r._cfg.dbFile, 0644, &bbolt.Options{
		Timeout: time.Millisecond * 50,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	src, err := newServerSideSource(db)
	if err != nil {
		return nil, err
	}
	info, err := logs.NewInfoStore(db)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &http.Server{
		Handler: newBrokerHandler(src),
	}
	go func() {
		err := s.Serve(ln)
		_ = err // Server closed on stop.
	}()

	addr := ln.Addr().String()
	if err = writeAddr(r._cfg.addrFile, addr); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	_ = info.PutBrokerLog(logs.BrokerLog{
		Event:     logs.BrokerEventLaunched,
		Addr:      addr,
		Operator:  r.clientID,
		Timestamp: time.Now().UnixNano(),
	})

	r._mu.Lock()
	r.cs = src
	r._mu.Unlock()

	return func() {
		src.quitAll()
		_ = info.PutBrokerLog(logs.BrokerLog{
			Event:     logs.BrokerEventStopped,
			Operator:  r.clientID,
			Timestamp: time.Now().UnixNano(),
		})
		_ = s.Close()
		_ = db.Close()
	}, nil
}

func readAddr(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(data)), nil
}

func writeAddr(file, addr string) error {
	return os.WriteFile(file, []byte(addr), 0644)
}

// ping checks the liveness of a broker address left by a previous or
// concurrent process.
func ping(cli *http.Client, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

type (
	opRequest struct {
		ClientID  string `json:"clientId"`
		ID        string `json:"id"`
		Cond      string `json:"cond"`
		TimeoutMS int64  `json:"timeoutMs,omitempty"`
	}

	opResponse struct {
		ID string `json:"id"`
		OK bool   `json:"ok"`
	}
)

// encodeTimeout maps a wait timeout onto the wire: -1 means unbounded,
// positive values are milliseconds rounded up so that a short but non-zero
// timeout stays a blocking wait.
func encodeTimeout(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

func decodeTimeout(ms int64) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func newBrokerHandler(src *serverSideSource) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handle := func(path string, op func(ctx context.Context, req opRequest) (bool, error)) {
		m.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			var req opRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			ok, err := op(r.Context(), req)
			if err != nil {
				if errors.Is(err, errBrokerBusy) {
					w.WriteHeader(http.StatusServiceUnavailable)
				} else {
					w.WriteHeader(http.StatusInternalServerError)
				}
				return
			}
			_ = json.NewEncoder(w).Encode(opResponse{
				ID: req.ID,
				OK: ok,
			})
		})
	}

	handle("/wait", func(ctx context.Context, req opRequest) (bool, error) {
		return src.wait(ctx, req.Cond, req.ClientID, decodeTimeout(req.TimeoutMS))
	})
	handle("/notify", func(ctx context.Context, req opRequest) (bool, error) {
		return src.notify(ctx, req.Cond, req.ClientID)
	})
	handle("/broadcast", func(ctx context.Context, req opRequest) (bool, error) {
		return src.broadcast(ctx, req.Cond, req.ClientID)
	})
	handle("/quit", func(ctx context.Context, req opRequest) (bool, error) {
		return src.quit(ctx, req.Cond, req.ClientID)
	})
	return m
}

// clientSideSource forwards condition operations to the broker process.
type clientSideSource struct {
	_cfg  config
	_addr string
}

func (s *clientSideSource) do(ctx context.Context, path, name, operator string, timeoutMS int64) (bool, error) {
	req := opRequest{
		ClientID:  operator,
		ID:        uuid.NewString(),
		Cond:      name,
		TimeoutMS: timeoutMS,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return false, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+s._addr+path, bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := s._cfg.httpCli.Do(hreq)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var res opResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, err
	}
	if res.ID != req.ID {
		return false, errors.New("unexpected response id")
	}
	return res.OK, nil
}

func (s *clientSideSource) wait(ctx context.Context, name, operator string, timeout time.Duration) (bool, error) {
	return s.do(ctx, "/wait", name, operator, encodeTimeout(timeout))
}

func (s *clientSideSource) notify(ctx context.Context, name, operator string) (bool, error) {
	return s.do(ctx, "/notify", name, operator, 0)
}

func (s *clientSideSource) broadcast(ctx context.Context, name, operator string) (bool, error) {
	return s.do(ctx, "/broadcast", name, operator, 0)
}

func (s *clientSideSource) quit(ctx context.Context, name, operator string) (bool, error) {
	return s.do(ctx, "/quit", name, operator, 0)
}

var _ condSource = (*clientSideSource)(nil)
