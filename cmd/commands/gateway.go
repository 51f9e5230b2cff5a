package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/marcushq/marcus/internal/config"
	"github.com/marcushq/marcus/internal/gateway"
	"github.com/marcushq/marcus/internal/heartbeat"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the Marcus SSE gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(ctx context.Context, cmd *cli.Command) error {
	log := stderrLogger(cmd.Bool("debug"))
	slog.SetDefault(log)

	rt, err := setupRuntime(ctx, cmd, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	// CLI flags override config
	if cmd.IsSet("host") {
		rt.cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		rt.cfg.Gateway.Port = cmd.Int("port")
	}

	go rt.mon.Run(ctx)

	hb := heartbeat.NewWriter(config.HeartbeatPath(), "sse")
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(
		rt.registry,
		rt.bus,
		rt.cfg.Gateway.Host,
		rt.cfg.Gateway.Port,
		rt.cfg.Gateway.AuthTokens,
		Version,
		log,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
