// SPDX-FileCopyrightText: Copyright 2025 The graphgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the graphgate gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/graphgate/graphgate/cmd/graphgate/app"
	"github.com/graphgate/graphgate/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
