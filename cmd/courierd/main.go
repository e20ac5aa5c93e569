// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// courierd runs a UDP courier node, configured by a TOML file, with optional REST and WebSocket agents.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// waitSignal blocks the current thread until a SIGINT or SIGTERM appears.
func waitSignal() {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt, syscall.SIGTERM)

	<-signalSyn
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	d, err := startDaemon(conf)
	if err != nil {
		log.WithError(err).Fatal("Failed to start")
	}

	waitSignal()
	log.Info("Shutting down..")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.close(ctx); err != nil {
		log.WithError(err).Warn("Shutdown errored")
	}
}
