package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
)

// WorkerCmd runs pipeline workers without the HTTP API
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline workers",
	Long: `Run pipeline workers without serving HTTP.

The pulse backend polls the async_tasks table of the shared database. The
nats backend joins the dispatch.nats.queue group on dispatch.nats.subject.`,
	RunE: runWorker,
}

var workerBackend string

func init() {
	WorkerCmd.Flags().StringVar(&workerBackend, "backend", "", "pulse or nats (default: dispatch.backend)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	backend := a.cfg.Dispatch.Backend
	if workerBackend != "" {
		backend = workerBackend
	}

	engine, err := a.engine()
	if err != nil {
		return err
	}
	if watcher, err := a.watchRoutes(engine); err != nil {
		return err
	} else if watcher != nil {
		defer watcher.Stop()
	}

	switch backend {
	case am.BackendNATS:
		if err := a.subscribeNats(ctx, engine); err != nil {
			return err
		}
		pterm.Info.Printf("Worker listening on %s (queue %s)\n", a.cfg.Dispatch.NATS.Subject, a.cfg.Dispatch.NATS.Queue)
	case am.BackendPulse:
		if a.cfg.Pulse.Workers <= 0 {
			return errors.New("pulse.workers must be at least 1 to run a pulse worker")
		}
		pool := a.workerPool(ctx, engine)
		pool.Start()
		defer pool.Stop()
		pterm.Info.Printf("Worker pool running with %d workers\n", pool.Workers())
	default:
		return errors.Newf("unknown backend %q (want pulse or nats)", backend)
	}
	a.sweep(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan

	pterm.Info.Println("Stopping worker...")
	return nil
}
