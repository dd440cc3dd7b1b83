// Command viewlogs renders the protocol journal of a registry's events.db.
package app

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.etcd.io/bbolt"

	"procond/logs"
)

func Run() {
	var (
		operation = pflag.StringP("operation", "o", "", "comma-separated filter: broker,wait,signal,quit")
		condition = pflag.StringP("condition", "c", "", "condition name")
	)
	pflag.Parse()

	filename := pflag.Arg(0)
	if filename == "" {
		log.Fatal("events.db file must be specified")
	}

	if err := run(filename, *operation, *condition); err != nil {
		log.Fatal(err)
	}
}

func run(filename, operation, condition string) error {
	_, err := os.Stat(filename)
	if err != nil {
		return err
	}

	db, err := bbolt.Open(filename, 0644, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %s", err)
	}
	defer func() {
		_ = db.Close()
	}()

	var broker, wait, signal, quit bool
	if operation == "" {
		broker = true
		wait = true
		signal = true
		quit = true
	} else {
		for _, op := range strings.Split(operation, ",") {
			switch op {
			case "broker":
				broker = true
			case "wait":
				wait = true
			case "signal":
				signal = true
			case "quit":
				quit = true
			}
		}
	}

	if condition == "" && !broker {
		return errors.New("condition name must be specified")
	}

	p := newTablePrinter()

	if broker {
		store, err := logs.NewInfoStore(db)
		if err != nil {
			return err
		}
		p.insertBrokerLogs(store.BrokerRecord().Logs)
	}

	if condition != "" {
		store, err := logs.NewResourceRecordStore[logs.CondRecord](db)
		if err != nil {
			return err
		}
		r, err := store.Get(condition)
		if err != nil {
			return err
		}
		p.insertCondLogs(r.Logs, wait, signal, quit)

		fmt.Printf("Condition identifier: %q\n\n", condition)
	}

	p.print()
	return nil
}
