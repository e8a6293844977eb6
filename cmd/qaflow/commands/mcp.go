package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/mcp"
)

// MCPCmd serves submit_question and get_job_status over stdio
var MCPCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve qaflow as MCP tools over stdio",
	Long: `Serve the submit_question and get_job_status tools over the Model
Context Protocol on stdin/stdout. Logs go to stderr. With the pulse backend
this process also runs pulse.workers pipeline workers.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
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

	if a.cfg.Dispatch.Backend != am.BackendNATS && a.cfg.Pulse.Workers > 0 {
		engine, err := a.engine()
		if err != nil {
			return err
		}
		pool := a.workerPool(ctx, engine)
		pool.Start()
		defer pool.Stop()
	}

	return mcp.NewServer(d, a.reader, logger.ComponentLogger("mcp")).ServeStdio()
}
