// Package app provides the DocuMind application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/docmind/cmd/docmind/app/options"
	"github.com/kart-io/docmind/pkg/infra/app"
)

const (
	// Name is the name of the application.
	Name = "docmind"

	// commandDesc is the description of the command.
	commandDesc = `DocuMind

Chat with your documents. PDF, text, Markdown and HTML files are split into
overlapping chunks, embedded into a vector index and searched for every question.
The retrieved passages ground the answers of the selected language model.

The root command serves the HTTP API; "chat" starts an interactive terminal session.`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(Name),
		app.WithShortDescription("Document question answering with retrieval-augmented generation"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithCommand("chat [files...]", "Interactive terminal chat over the given files", chat(opts)),
		app.WithDotEnv(),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// Run the server with signal context for graceful shutdown
		return server.Run(ctx)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
