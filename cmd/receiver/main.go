// Command receiver listens for uploader connections, accepts offered
// files, and drives each one's resumable download to completion.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"gosend-transfer/config"
	"gosend-transfer/internal/broker"
	"gosend-transfer/internal/loop"
	"gosend-transfer/internal/role"
	"gosend-transfer/storage"
)

const (
	// maxConnections bounds how many peer connections the receiver will
	// accept at once; +2 in maxPollables leaves room for the listener
	// and the signal source alongside them.
	maxConnections    = 1024
	maxPollables      = maxConnections + 2
	listenBacklog     = 128
	requestBrokerSize = 16
)

func main() {
	defaults := config.ReceiverOptions{Port: config.DefaultPort, Root: config.ResolveReceiverRoot()}
	opts, err := config.ParseReceiverArgs(os.Args[0], os.Args[1:], defaults)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	settings, dataDir, err := config.LoadOrCreateReceiverSettings(*opts)
	if err != nil {
		log.Fatalf("startup failed while loading settings: %v", err)
	}
	if err := os.MkdirAll(settings.Root, 0o755); err != nil {
		log.Fatalf("startup failed while preparing storage root %q: %v", settings.Root, err)
	}

	ledger, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening ledger: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Printf("receiver: ledger close error: %v", err)
		}
	}()

	fmt.Println("FT SERVER | Starting...")
	fmt.Printf("FT SERVER |   PORT: %d\n", settings.Port)
	fmt.Printf("FT SERVER |   ROOT: %s\n", settings.Root)
	fmt.Printf("FT SERVER |   LEDGER: %s\n", dbPath)

	group := loop.NewGroup(maxPollables)
	table := loop.NewConnTable()

	signalSource, err := loop.NewSignalSource()
	if err != nil {
		log.Fatalf("startup failed while installing signal handler: %v", err)
	}
	if err := group.Add(signalSource); err != nil {
		log.Fatalf("startup failed while registering signal handler: %v", err)
	}

	receiver := role.NewReceiver(settings.Root, ledger)
	b := broker.New(receiver, requestBrokerSize)
	defer b.Shutdown()

	listener, err := loop.Listen(uint16(settings.Port), listenBacklog, group, table, b)
	if err != nil {
		log.Fatalf("startup failed while listening on port %d: %v", settings.Port, err)
	}
	defer listener.Close()
	if err := group.Add(listener); err != nil {
		log.Fatalf("startup failed while registering listener: %v", err)
	}

	fmt.Println("FT SERVER | INIT COMPLETED")

	for !signalSource.ReceivedTermSignal() {
		if err := group.PollAndHandle(); err != nil {
			log.Printf("receiver: %v", err)
			break
		}
	}

	fmt.Println("FT SERVER | Terminating...")
}
