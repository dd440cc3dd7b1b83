package app

import (
	"fmt"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"

	"procond/logs"
)

type (
	row struct {
		ts        int64 // timestamp
		operation string
		operator  string
		data      string
	}

	tablePrinter struct {
		rows []row
	}
)

func newTablePrinter() *tablePrinter {
	return &tablePrinter{
		rows: []row{},
	}
}

func (p *tablePrinter) insert(v row) {
	idx, _ := slices.BinarySearchFunc(p.rows, v, func(r1, r2 row) int {
		switch {
		case r1.ts == r2.ts:
			return 0
		case r1.ts < r2.ts:
			return -1
		default:
			return 1
		}
	})

	if idx == len(p.rows) {
		p.rows = append(p.rows, v)
	} else {
		p.rows = append(p.rows, row{})
		copy(p.rows[idx+1:], p.rows[idx:])
		p.rows[idx] = v
	}
}

func (p *tablePrinter) insertBrokerLogs(bl []logs.BrokerLog) {
	for _, l := range bl {
		var data string
		if l.Event == logs.BrokerEventLaunched {
			data = fmt.Sprintf("addr=%s", l.Addr)
		}
		p.insert(row{
			ts:        l.Timestamp,
			operation: formatBrokerOperation(l.Event),
			operator:  l.Operator,
			data:      data,
		})
	}
}

func (p *tablePrinter) insertCondLogs(cl []logs.CondLog, wait, signal, quit bool) {
	for _, l := range cl {
		var keep bool
		switch l.Event {
		case logs.CondEventWaitEnter, logs.CondEventWaitWoken,
			logs.CondEventWaitTimeout, logs.CondEventWaitRejected:
			keep = wait
		case logs.CondEventNotify, logs.CondEventBroadcast:
			keep = signal
		case logs.CondEventQuit:
			keep = quit
		}
		if !keep {
			continue
		}
		p.insert(row{
			ts:        l.Timestamp,
			operation: string(l.Event),
			operator:  l.Operator,
		})
	}
}

func (p *tablePrinter) print() {
	tbl := table.New("Time", "Elapsed", "Operation", "Operator", "Data").
		WithHeaderFormatter(
			color.New(color.FgGreen, color.Underline).SprintfFunc(),
		).
		WithFirstColumnFormatter(
			color.New(color.FgYellow).SprintfFunc(),
		)

	var last time.Time
	for _, r := range p.rows {
		timestamp, elapsed := formatTime(r.ts, &last)
		tbl.AddRow(timestamp, elapsed, r.operation, r.operator, r.data)
	}
	tbl.Print()
}

func formatBrokerOperation(e logs.BrokerEvent) string {
	switch e {
	case logs.BrokerEventLaunched:
		return "broker:launched"
	case logs.BrokerEventStopped:
		return "broker:stopped"
	default:
		return string(e)
	}
}

func formatTime(ts int64, last *time.Time) (string, string) {
	t := time.Unix(0, ts)
	defer func() {
		*last = t
	}()
	s := t.Format("2006-01-02 15:04:05.999999999")
	if last.IsZero() {
		return s, ""
	}
	diff := t.Sub(*last)
	if diff >= 0 {
		return s, "+" + diff.String()
	}
	return s, diff.String()
}
