package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dunamismax/pixelpass/internal/config"
	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/pipeline"
	"github.com/dunamismax/pixelpass/internal/source"
	"github.com/dunamismax/pixelpass/internal/surface"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "classify a source and print its dimensions",
		ArgsUsage: "<path|url|markup|data-uri>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("inspect needs exactly one source")
			}
			cfg := config.Load().Render
			fetcher := pipeline.RouterFetcher{
				Local: pipeline.LocalFileFetcher{MaxBytes: cfg.MaxSourceBytes},
				HTTP:  pipeline.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxSourceBytes),
			}
			info, err := inspect(c.Context, c.Args().First(), fetcher)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, info)
			return nil
		},
	}
}

type sourceInfo struct {
	Kind   source.Kind
	MIME   string
	Bytes  int
	Width  int
	Height int
}

func (i sourceInfo) String() string {
	return fmt.Sprintf("kind=%s mime=%s bytes=%d width=%d height=%d", i.Kind, i.MIME, i.Bytes, i.Width, i.Height)
}

// inspect classifies arg as given; references are fetched and their content
// classified again.
func inspect(ctx context.Context, arg string, fetcher pipeline.Fetcher) (sourceInfo, error) {
	src, err := source.Classify(arg)
	if err != nil {
		return sourceInfo{}, err
	}
	if src.Kind == source.KindReference {
		data, err := fetcher.Fetch(ctx, src.Ref)
		if err != nil {
			return sourceInfo{}, err
		}
		src, err = source.Classify(source.Binary{Data: data})
		if err != nil {
			return sourceInfo{}, err
		}
	}
	return describe(src)
}

func describe(src source.Source) (sourceInfo, error) {
	info := sourceInfo{Kind: src.Kind, MIME: src.MIME, Bytes: len(src.Data)}
	switch src.Kind {
	case source.KindVectorMarkup:
		vec, err := surface.ParseVector(src.Markup)
		if err != nil {
			return info, err
		}
		size := vec.Size()
		info.MIME, info.Bytes, info.Width, info.Height = source.MIMEVector, len(src.Markup), size.Width, size.Height
	case source.KindDataURI, source.KindEncodedBinary:
		if src.MIME == source.MIMEVector {
			return describe(source.Source{Kind: source.KindVectorMarkup, Markup: src.Data})
		}
		img, err := surface.Decode(src.Data)
		if err != nil {
			return info, err
		}
		b := img.Bounds()
		info.Width, info.Height = b.Dx(), b.Dy()
	}
	return info, nil
}

func formatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "formats",
		Usage: "list output formats and whether this build can encode them",
		Action: func(c *cli.Context) error {
			for _, f := range output.Formats() {
				state := "fallback"
				if surface.Supported(string(f)) {
					state = "native"
				}
				fmt.Fprintf(c.App.Writer, "%-5s %-11s .%-5s %s\n", f, f.MIME(), f.Extension(), state)
			}
			return nil
		},
	}
}
