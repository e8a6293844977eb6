package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/pulse/async"
	"github.com/teranos/qaflow/server"
	"github.com/teranos/qaflow/version"
)

// ServerCmd starts the HTTP API together with workers, sweeper and route watcher
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Serve the question-answering HTTP API",
	Long: `Serve POST /query, GET /status/{job_id}, GET /health and the
/ws/status/{job_id} stream. With the pulse backend the same process runs
pulse.workers pipeline workers; with the nats backend run 'qaflow worker'
separately.`,
	RunE: runServer,
}

var serverPort int

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (overrides server.port)")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.dispatcher()
	if err != nil {
		return err
	}

	var opts []server.Option
	var pool *async.WorkerPool
	if a.cfg.Dispatch.Backend != am.BackendNATS && a.cfg.Pulse.Workers > 0 {
		engine, err := a.engine()
		if err != nil {
			return err
		}
		pool = a.workerPool(ctx, engine)
		pool.Start()
		defer pool.Stop()
		opts = append(opts, server.WithWorkerPool(pool))

		watcher, err := a.watchRoutes(engine)
		if err != nil {
			return err
		}
		if watcher != nil {
			defer watcher.Stop()
		}
	}
	a.sweep(ctx)

	port := a.cfg.Server.Port
	if serverPort > 0 {
		port = serverPort
	}
	addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(port))
	printBanner(a.cfg, addr, pool)

	srv := server.New(d, a.reader, opts...)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	}

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("Server stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		logger.Cleanup()
		os.Exit(1)
		return nil
	}
}

func printBanner(cfg *am.Config, addr string, pool *async.WorkerPool) {
	pterm.DefaultHeader.WithFullWidth().Printf("qaflow %s", version.Get().Version)

	workers := "none (nats backend or pulse.workers = 0)"
	if pool != nil {
		workers = strconv.Itoa(pool.Workers())
	}
	rows := [][]string{
		{"Listen", "http://" + addr},
		{"Database", databaseLabel(cfg.Database)},
		{"Backend", cfg.Dispatch.Backend},
		{"Workers", workers},
		{"Reasoning", cfg.Reasoning.Provider},
		{"Job TTL", fmt.Sprintf("%dh", cfg.Jobs.TTLHours)},
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
	pterm.Println()
}

func databaseLabel(c am.DatabaseConfig) string {
	if c.Driver == am.DriverPostgres {
		return "postgres"
	}
	return "sqlite " + c.Path
}
