package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/riorita/go-riorita/cache"
	"github.com/riorita/go-riorita/server"
	"github.com/riorita/go-riorita/store"
	"github.com/urfave/cli"
)

var log = logging.Logger("riorita/main")

func main() {
	app := cli.NewApp()
	app.Name = "rioritad"
	app.Usage = "networked key-value storage server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log",
			Usage: "write logs to `PATH` instead of stderr",
		},
		cli.StringFlag{
			Name:  "data",
			Usage: "data directory `PATH`",
			Value: "data",
		},
		cli.StringFlag{
			Name:  "backend",
			Usage: "storage backend {compact|files|memory|leveldb|rocksdb}",
			Value: "compact",
		},
		cli.IntFlag{
			Name:  "port",
			Usage: "TCP port to listen on",
			Value: 8024,
		},
		cli.StringFlag{
			Name:  "allowed",
			Usage: "semicolon-separated list of allowed `CIDR` blocks; empty allows all",
		},
		cli.IntFlag{
			Name:  "groups",
			Usage: "shard count of the compact backend",
			Value: 8,
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logCfg := logging.Config{
		Format: logging.ColorizedOutput,
		Level:  logging.LevelInfo,
		Stderr: true,
	}
	if logPath := c.String("log"); logPath != "" {
		logCfg.Format = logging.PlaintextOutput
		logCfg.File = logPath
		logCfg.Stderr = false
	}
	logging.SetupLogging(logCfg)

	backend := store.ParseType(c.String("backend"))
	if backend == store.Illegal {
		return fmt.Errorf("unknown backend %q", c.String("backend"))
	}

	allowList, err := server.ParseAllowList(c.String("allowed"))
	if err != nil {
		return err
	}

	storage, err := store.New(backend,
		store.Directory(c.String("data")),
		store.GroupCount(c.Int("groups")))
	if err != nil {
		return fmt.Errorf("cannot open %s backend: %w", backend, err)
	}

	srv := server.New(storage, cache.New(), server.WithAllowList(allowList))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Infow("Shutting down", "signal", sig)
		srv.Close()
	}()

	err = srv.ListenAndServe(fmt.Sprintf(":%d", c.Int("port")))

	// The compact engine's Close removes every file beneath its root;
	// its data must survive a daemon restart, so it is left open and
	// the process exit releases it.
	if backend != store.Compact {
		if cerr := storage.Close(); cerr != nil {
			log.Errorw("Cannot close storage", "err", cerr)
			if err == nil {
				err = cerr
			}
		}
	}
	return err
}
