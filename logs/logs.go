// Package logs persists a journal of condition-variable protocol events.
// The journal is a diagnostic surface only: recording is best-effort and
// never feeds back into protocol results.
package logs

// CondEvent is a kind of operation recorded in a condition's journal.
type CondEvent string

const (
	CondEventWaitEnter    CondEvent = "wait:enter"
	CondEventWaitWoken    CondEvent = "wait:woken"
	CondEventWaitTimeout  CondEvent = "wait:timeout"
	CondEventWaitRejected CondEvent = "wait:rejected"
	CondEventNotify       CondEvent = "notify"
	CondEventBroadcast    CondEvent = "broadcast"
	CondEventQuit         CondEvent = "quit"
)

type (
	// CondRecord is the stored journal of one condition object.
	CondRecord struct {
		Logs []CondLog `json:"logs"`
	}

	CondLog struct {
		Event     CondEvent `json:"event"`
		Operator  string    `json:"operator"`
		Timestamp int64     `json:"ts,string"`
	}
)

// BrokerEvent is a kind of operation recorded in the broker's journal.
type BrokerEvent string

const (
	BrokerEventLaunched BrokerEvent = "launched"
	BrokerEventStopped  BrokerEvent = "stopped"
)

type (
	// BrokerRecord is the stored lifecycle journal of the broker.
	BrokerRecord struct {
		Logs []BrokerLog `json:"logs"`
	}

	BrokerLog struct {
		Event     BrokerEvent `json:"event"`
		Addr      string      `json:"addr,omitempty"`
		Operator  string      `json:"operator"`
		Timestamp int64       `json:"ts,string"`
	}
)
