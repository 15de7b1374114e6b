package app

import (
	"context"
	"fmt"
	"os"

	"github.com/kart-io/logger"

	"github.com/kart-io/docmind/cmd/docmind/app/options"
	"github.com/kart-io/docmind/internal/docmind"
	"github.com/kart-io/docmind/pkg/infra/app"
)

// chat runs the terminal chat over the files given as arguments.
func chat(opts *options.ServerOptions) app.CommandFunc {
	return func(files []string) error {
		if len(files) == 0 {
			return fmt.Errorf("at least one file is required")
		}

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		// 终端界面不与日志混在一起
		if len(cfg.LogOptions.OutputPaths) == 0 || cfg.LogOptions.OutputPaths[0] == "stdout" {
			cfg.LogOptions.OutputPaths = []string{"stderr"}
		}
		if err := cfg.InitLogger(); err != nil {
			return err
		}

		ctx := setupSignalContext()
		components, err := cfg.NewComponents(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := components.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Warnw("failed to release components", "error", err.Error())
			}
			_ = logger.Flush()
		}()

		return docmind.NewTerminal(components.Service, os.Stdin, os.Stdout).Run(ctx, files, "")
	}
}
