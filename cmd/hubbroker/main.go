// Command hubbroker runs the reference broker server: a single
// long-lived process that producers register channels with and
// consumers discover them from (spec §4.6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pylabhub/hub/broker"
)

func main() {
	socket := pflag.String("socket", "/tmp/pylabhub-broker.sock", "unix socket path to listen on")
	persist := pflag.String("persist", "", "path to persist the registry across restarts (disabled if empty)")
	pflag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hubbroker: "+err.Error())
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := broker.NewServer(*socket, *persist, log)
	if err != nil {
		log.Fatal("listen", zap.String("socket", *socket), zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	log.Info("hubbroker listening", zap.String("socket", *socket))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("serve", zap.Error(err))
		}
	}
	if err := srv.Close(); err != nil {
		log.Error("close", zap.Error(err))
	}
}
