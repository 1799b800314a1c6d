// Command pixelpass renders images locally with the same engine the API and
// worker use.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dunamismax/pixelpass/internal/surface"
)

var version = "dev"

func main() {
	logger := log.New(os.Stderr, "[cli] ", log.LstdFlags|log.Lmsgprefix)

	app := newApp(logger)
	if err := app.Run(os.Args); err != nil {
		logger.Fatalf("%v", err)
	}
}

func newApp(logger *log.Logger) *cli.App {
	return &cli.App{
		Name:    "pixelpass",
		Usage:   "convert, resize and filter images",
		Version: version,
		Before: func(*cli.Context) error {
			return surface.Startup()
		},
		After: func(*cli.Context) error {
			surface.Shutdown()
			return nil
		},
		Commands: []*cli.Command{
			renderCommand(logger),
			inspectCommand(),
			formatsCommand(),
		},
	}
}
