package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/presenter"
	"github.com/docpilot/docpilot/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server exposing chat, skill and thread endpoints,
SSE streaming at /api/chat/stream, and per-thread websockets at /ws/{id}.`,
	Run: func(cmd *cobra.Command, args []string) {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		runServe(cmd, host, port)
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "host to bind the API server to")
	serveCmd.Flags().Int("port", 8000, "port to bind the API server to")
}

func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if host != "localhost" && host != "0.0.0.0" {
		if ip := net.ParseIP(host); ip == nil {
			if strings.Contains(host, " ") || strings.Contains(host, ":") {
				return fmt.Errorf("invalid host: %s", host)
			}
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, host string, port int) {
	p := presenter.New()
	ctx := cmd.Context()

	if err := validateHost(host); err != nil {
		p.Error(err, "invalid server configuration")
		os.Exit(1)
	}
	if port < 1024 {
		logger.G(ctx).WithField("port", port).Warn("using privileged port (< 1024) may require elevated permissions")
	}

	session, err := newSession(ctx)
	if err != nil {
		p.Error(err, "failed to start session")
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close session")
		}
	}()

	srv, err := server.NewServer(&server.Config{Host: host, Port: port}, session)
	if err != nil {
		p.Error(err, "failed to create API server")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p.Success(fmt.Sprintf("API server starting on http://%s:%d", host, port))
	p.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("API server error")
		p.Error(err, "API server failed")
		os.Exit(1)
	}
	p.Success("API server stopped")
}
