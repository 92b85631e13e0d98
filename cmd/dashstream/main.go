package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dashstream/engine/cmd/dashstream/app"
	"github.com/dashstream/engine/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	cfg, err := app.LoadConfig(os.Args)
	if err != nil {
		if strings.Contains(err.Error(), "help requested") {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err.Error())
		return 1
	}

	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %s\n", err.Error())
		return 1
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := app.SetupServer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up server: %s\n", err.Error())
		return 1
	}

	stopServer := make(chan struct{}, 1)
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), server.Router)
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "control API server error: %s\n", err.Error())
			exitCode = 1
		}
		stopServer <- struct{}{}
	}()

	select {
	case <-stopSignal:
	case <-stopServer:
	}
	return exitCode
}
