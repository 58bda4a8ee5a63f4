// Command uploader offers a single local file to a running receiver and
// serves chunk requests for it until the receiver reports completion.
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
	"gosend-transfer/internal/peerid"
	"gosend-transfer/internal/role"
	"gosend-transfer/storage"
)

// maxPollables bounds the uploader's Group: one outbound connection plus
// the signal source.
const maxPollables = 2

func main() {
	opts, err := config.ParseUploaderArgs(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	dataDir, err := config.ResolveDataDir(".uploader")
	if err != nil {
		log.Fatalf("startup failed while resolving data directory: %v", err)
	}
	if err := config.EnsureDataDir(dataDir); err != nil {
		log.Fatalf("startup failed while preparing data directory: %v", err)
	}

	var id [peerid.Size]byte
	if opts.PeerID != "" {
		id, err = peerid.Parse(opts.PeerID)
	} else {
		path, pathErr := peerid.DefaultPath()
		if pathErr != nil {
			log.Fatalf("startup failed while resolving peer id path: %v", pathErr)
		}
		id, err = peerid.Load(path)
	}
	if err != nil {
		log.Fatalf("startup failed while preparing peer id: %v", err)
	}

	ledger, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening ledger: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Printf("uploader: ledger close error: %v", err)
		}
	}()

	fmt.Println("FT CLIENT | Starting...")
	fmt.Printf("FT CLIENT |   UUID: %s\n", peerid.Format(id))
	fmt.Printf("FT CLIENT |   SERVER: %s:%d\n", opts.Host, opts.Port)
	fmt.Printf("FT CLIENT |   FILE: %s\n", opts.FilePath)
	fmt.Printf("FT CLIENT |   LEDGER: %s\n", dbPath)

	group := loop.NewGroup(maxPollables)
	table := loop.NewConnTable()

	signalSource, err := loop.NewSignalSource()
	if err != nil {
		log.Fatalf("startup failed while installing signal handler: %v", err)
	}
	if err := group.Add(signalSource); err != nil {
		log.Fatalf("startup failed while registering signal handler: %v", err)
	}

	uploader := role.NewUploader(id, ledger)
	b := broker.New(uploader, 1)
	defer b.Shutdown()

	conn, err := loop.Dial(opts.Host, uint16(opts.Port), group, table, b)
	if err != nil {
		log.Fatalf("startup failed while connecting to %s:%d: %v", opts.Host, opts.Port, err)
	}

	if err := uploader.Offer(conn, opts.FilePath); err != nil {
		log.Fatalf("startup failed while offering %s: %v", opts.FilePath, err)
	}

	fmt.Println("FT CLIENT | INIT COMPLETED")

	for !uploader.UploadsCompleted() && !signalSource.ReceivedTermSignal() {
		if err := group.PollAndHandle(); err != nil {
			log.Printf("uploader: %v", err)
			break
		}
	}

	fmt.Println("FT CLIENT | Terminating...")
}
