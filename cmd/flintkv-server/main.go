// Command flintkv-server runs a flintkv line-protocol TCP server.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flint-kv/flintkv"
	"github.com/flint-kv/flintkv/internal/transport"
	"github.com/sirupsen/logrus"
)

func main() {
	host := flag.String("host", "127.0.0.1", "address to listen on")
	port := flag.Int("port", 9090, "port to listen on")
	dataDir := flag.String("data-dir", "./flintkv-data", "directory to store database files")
	memtableSize := flag.Int("memtable-size", 4096, "max entries held in the memtable before a flush")
	compactionThreshold := flag.Int("compaction-threshold", 4, "compact once the number of SSTables exceeds this")
	indexInterval := flag.Int("index-interval", 16, "entries between sparse index samples in a new SSTable")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := flintkv.DefaultConfig()
	cfg.MaxMemtableEntries = *memtableSize
	cfg.CompactionThreshold = *compactionThreshold
	cfg.IndexInterval = *indexInterval

	db, err := flintkv.Open(*dataDir, cfg, log)
	if err != nil {
		fatal(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("error closing database")
		}
	}()

	addr := fmt.Sprintf("%s:%d", *host, *port)
	srv, err := transport.NewServer(addr, db, log)
	if err != nil {
		fatal(err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	log.WithFields(logrus.Fields{"addr": addr, "data_dir": *dataDir}).Info("flintkv server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
		if err := srv.Close(); err != nil {
			log.WithError(err).Warn("error closing server")
		}
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("server stopped")
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "flintkv-server:", err)
	os.Exit(1)
}
