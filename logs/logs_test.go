package logs

import (
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
	"gotest.tools/v3/assert"
)

func TestInfoStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	func() {
		db, err := bbolt.Open(filepath.Join(dir, "events.db"), 0644, nil)
		assert.NilError(t, err)
		defer func() {
			_ = db.Close()
		}()

		store, err := NewInfoStore(db)
		assert.NilError(t, err)

		assert.NilError(t, store.PutBrokerLog(BrokerLog{
			Event:     BrokerEventLaunched,
			Addr:      "127.0.0.1:8080",
			Operator:  "alice",
			Timestamp: 1694765593803865000,
		}))
		assert.NilError(t, store.PutBrokerLog(BrokerLog{
			Event:     BrokerEventStopped,
			Operator:  "alice",
			Timestamp: 1694765603344265000,
		}))

		assert.DeepEqual(t, *store.BrokerRecord(), BrokerRecord{
			Logs: []BrokerLog{
				{
					Event:     BrokerEventLaunched,
					Addr:      "127.0.0.1:8080",
					Operator:  "alice",
					Timestamp: 1694765593803865000,
				},
				{
					Event:     BrokerEventStopped,
					Operator:  "alice",
					Timestamp: 1694765603344265000,
				},
			},
		})
	}()

	// A fresh broker generation sees the persisted journal.
	db, err := bbolt.Open(filepath.Join(dir, "events.db"), 0644, nil)
	assert.NilError(t, err)
	defer func() {
		_ = db.Close()
	}()

	store, err := NewInfoStore(db)
	assert.NilError(t, err)
	assert.DeepEqual(t, *store.BrokerRecord(), BrokerRecord{
		Logs: []BrokerLog{
			{
				Event:     BrokerEventLaunched,
				Addr:      "127.0.0.1:8080",
				Operator:  "alice",
				Timestamp: 1694765593803865000,
			},
			{
				Event:     BrokerEventStopped,
				Operator:  "alice",
				Timestamp: 1694765603344265000,
			},
		},
	})
}

func TestResourceRecordStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db, err := bbolt.Open(filepath.Join(dir, "events.db"), 0644, nil)
	assert.NilError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewResourceRecordStore[CondRecord](db)
	assert.NilError(t, err)

	// Record is not stored yet.
	got, err := store.Get("treasure")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Assert(t, got == nil)

	// First write creates the record.
	assert.NilError(t, store.Put("treasure", func(r *CondRecord, loaded bool) {
		assert.Assert(t, !loaded)
		r.Logs = append(r.Logs, CondLog{
			Event:     CondEventWaitEnter,
			Operator:  "alice",
			Timestamp: 1694765593803865000,
		})
	}))

	// Second write loads and appends.
	assert.NilError(t, store.Put("treasure", func(r *CondRecord, loaded bool) {
		assert.Assert(t, loaded)
		r.Logs = append(r.Logs, CondLog{
			Event:     CondEventWaitWoken,
			Operator:  "alice",
			Timestamp: 1694765603344265000,
		})
	}))

	got, err = store.Get("treasure")
	assert.NilError(t, err)
	assert.DeepEqual(t, *got, CondRecord{
		Logs: []CondLog{
			{
				Event:     CondEventWaitEnter,
				Operator:  "alice",
				Timestamp: 1694765593803865000,
			},
			{
				Event:     CondEventWaitWoken,
				Operator:  "alice",
				Timestamp: 1694765603344265000,
			},
		},
	})

	// Records of different conditions do not interfere.
	assert.NilError(t, store.Put("lamp", func(r *CondRecord, loaded bool) {
		assert.Assert(t, !loaded)
		r.Logs = append(r.Logs, CondLog{
			Event:     CondEventBroadcast,
			Operator:  "bob",
			Timestamp: 1694765604000000000,
		})
	}))

	var names []string
	assert.NilError(t, store.ForEach(func(name string, obj *CondRecord) error {
		names = append(names, name)
		assert.Assert(t, len(obj.Logs) > 0)
		return nil
	}))
	assert.DeepEqual(t, names, []string{"lamp", "treasure"})
}
