package logs

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.etcd.io/bbolt"
)

// ErrRecordNotFound indicates that no record is stored for the requested
// condition yet.
var ErrRecordNotFound = errors.New("record not found")

// ResourceRecordStore provides bbolt-backed persistence of records keyed by
// condition name, one bucket per record type.
type ResourceRecordStore[T any] interface {
	// Get retrieves the stored record. It returns an error wrapping
	// ErrRecordNotFound when the record does not exist.
	Get(name string) (*T, error)
	// Put updates the record inside a batched read-modify-write
	// transaction. loaded tells whether the record already existed.
	Put(name string, update func(r *T, loaded bool)) error
	// ForEach iterates all stored records.
	ForEach(fn func(name string, obj *T) error) error
}

type recordStore[T any] struct {
	_db     *bbolt.DB
	_bucket []byte
}

// NewResourceRecordStore creates a store for record type T, creating its
// bucket if necessary.
func NewResourceRecordStore[T any](db *bbolt.DB) (ResourceRecordStore[T], error) {
	var v T
	bucket := []byte(fmt.Sprintf("record=%s", reflect.TypeOf(v).Name()))
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &recordStore[T]{
		_db:     db,
		_bucket: bucket,
	}, nil
}

func (s *recordStore[T]) Get(name string) (*T, error) {
	var r *T
	err := s._db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(s._bucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %q", ErrRecordNotFound, name)
		}
		r = new(T)
		return json.Unmarshal(data, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *recordStore[T]) Put(name string, update func(r *T, loaded bool)) error {
	return s._db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s._bucket)

		var (
			r      = new(T)
			loaded bool
		)
		if data := b.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, r); err != nil {
				return err
			}
			loaded = true
		}
		update(r, loaded)

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

func (s *recordStore[T]) ForEach(fn func(name string, obj *T) error) error {
	return s._db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s._bucket).ForEach(func(k, v []byte) error {
			r := new(T)
			if err := json.Unmarshal(v, r); err != nil {
				return err
			}
			return fn(string(k), r)
		})
	})
}

var (
	infoBucket = []byte("info")
	brokerKey  = []byte("broker")
)

// InfoStore keeps the broker's lifecycle journal. The record is held in
// memory and every update is written through to the database.
type InfoStore struct {
	_db     *bbolt.DB
	_m      sync.RWMutex
	_record BrokerRecord
}

// NewInfoStore creates an InfoStore, loading the journal persisted by
// previous broker generations.
func NewInfoStore(db *bbolt.DB) (*InfoStore, error) {
	s := &InfoStore{
		_db: db,
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(infoBucket)
		if err != nil {
			return err
		}
		if data := b.Get(brokerKey); data != nil {
			return json.Unmarshal(data, &s._record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load broker record: %w", err)
	}
	return s, nil
}

// BrokerRecord returns the in-memory view of the broker journal.
func (s *InfoStore) BrokerRecord() *BrokerRecord {
	s._m.RLock()
	defer s._m.RUnlock()

	r := BrokerRecord{
		Logs: append([]BrokerLog{}, s._record.Logs...),
	}
	return &r
}

// PutBrokerLog appends one lifecycle log and persists the record.
func (s *InfoStore) PutBrokerLog(l BrokerLog) error {
	s._m.Lock()
	defer s._m.Unlock()

	logs := append(s._record.Logs, l)
	data, err := json.Marshal(BrokerRecord{Logs: logs})
	if err != nil {
		return err
	}
	err = s._db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(infoBucket).Put(brokerKey, data)
	})
	if err != nil {
		return err
	}
	s._record.Logs = logs
	return nil
}
