package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dunamismax/pixelpass/internal/config"
	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/filter"
	"github.com/dunamismax/pixelpass/internal/id"
	"github.com/dunamismax/pixelpass/internal/pipeline"
	"github.com/dunamismax/pixelpass/internal/worker"
)

func renderCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "render an image from flags or a YAML recipe",
		ArgsUsage: "[source]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "recipe", Aliases: []string{"r"}, Usage: "YAML recipe file; flags describing a step are ignored"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "pixelpass-out", Usage: "output directory"},
			&cli.StringFlag{Name: "name", Usage: "output file name; the extension follows the output format"},
			&cli.StringFlag{Name: "fit", Usage: "fit mode: contain, cover, fill, inside, outside"},
			&cli.IntFlag{Name: "width", Aliases: []string{"w"}},
			&cli.IntFlag{Name: "height", Aliases: []string{"H"}},
			&cli.StringFlag{Name: "position", Usage: "anchor for cover and contain"},
			&cli.StringFlag{Name: "background", Usage: "letterbox color for contain"},
			&cli.Float64Flag{Name: "scale", Usage: "uniform scale factor"},
			&cli.StringFlag{Name: "crop", Usage: "crop region x,y,w,h"},
			&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "filter such as brightness:20 or noise:amount=5,seed=1; repeatable"},
			&cli.StringFlag{Name: "format", Usage: "output format; defaults to the source format"},
			&cli.Float64Flag{Name: "quality", Aliases: []string{"q"}, Usage: "lossy quality in [0,1]"},
			&cli.StringFlag{Name: "fallback", Usage: "format used when the requested one cannot be encoded"},
		},
		Action: func(c *cli.Context) error {
			var recipe Recipe
			if path := c.String("recipe"); path != "" {
				loaded, err := LoadRecipe(path)
				if err != nil {
					return err
				}
				recipe = loaded
				if c.IsSet("out") {
					recipe.OutputDir = c.String("out")
				}
			} else {
				if c.NArg() != 1 {
					return errors.New("render needs exactly one source, or --recipe")
				}
				step, err := renderFlags{
					name:       c.String("name"),
					fit:        c.String("fit"),
					width:      c.Int("width"),
					height:     c.Int("height"),
					position:   c.String("position"),
					background: c.String("background"),
					scale:      c.Float64("scale"),
					crop:       c.String("crop"),
					filters:    c.StringSlice("filter"),
					format:     c.String("format"),
					quality:    c.Float64("quality"),
					fallback:   c.String("fallback"),
				}.step(c.Args().First())
				if err != nil {
					return err
				}
				recipe = Recipe{Source: c.Args().First(), OutputDir: c.String("out"), Steps: []domain.RenderStep{step}}
			}
			return runRecipe(c, recipe, logger)
		},
	}
}

type renderFlags struct {
	name       string
	fit        string
	width      int
	height     int
	position   string
	background string
	scale      float64
	crop       string
	filters    []string
	format     string
	quality    float64
	fallback   string
}

// step turns command-line flags into a single render step named after the
// source file.
func (f renderFlags) step(src string) (domain.RenderStep, error) {
	base := filepath.Base(src)
	step := domain.RenderStep{
		ID:             strings.TrimSuffix(base, filepath.Ext(base)),
		FileName:       f.name,
		Format:         f.format,
		Quality:        f.quality,
		FallbackFormat: f.fallback,
	}
	if step.ID == "" || step.ID == "." || step.ID == "/" {
		step.ID = "output"
	}

	if f.fit != "" {
		step.Fit = &domain.FitStep{Mode: f.fit, Width: f.width, Height: f.height, Position: f.position, Background: f.background}
	}
	if f.scale != 0 {
		step.Scale = &domain.ScaleStep{Factor: f.scale}
	}
	if f.crop != "" {
		region, err := parseCrop(f.crop)
		if err != nil {
			return step, err
		}
		step.Crop = region
	}
	for i, raw := range f.filters {
		op, err := filter.Parse(raw)
		if err != nil {
			return step, fmt.Errorf("filter[%d]: %w", i, err)
		}
		step.Filters = append(step.Filters, domain.FilterStep{Kind: op.Kind.String(), Params: op.Params})
	}
	return step, step.Validate()
}

func parseCrop(raw string) (*domain.CropStep, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("crop must be x,y,w,h, got %q", raw)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("crop: %w", err)
		}
		vals[i] = v
	}
	return &domain.CropStep{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

func runRecipe(c *cli.Context, recipe Recipe, logger *log.Logger) error {
	cfg := config.Load().Render
	engine, err := worker.NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(recipe.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	processor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Engine: engine,
		Fetchers: map[string]pipeline.Fetcher{
			domain.SourceTypeLocalFile: pipeline.LocalFileFetcher{MaxBytes: cfg.MaxSourceBytes},
			domain.SourceTypeRemoteURL: pipeline.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxSourceBytes),
		},
		Emitter: pipeline.LocalFileEmitter{OutputDir: recipe.OutputDir, Flat: true},
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	task := pipeline.Task{JobID: id.New(), Steps: recipe.Steps}
	if strings.HasPrefix(recipe.Source, "http://") || strings.HasPrefix(recipe.Source, "https://") {
		task.SourceType = domain.SourceTypeRemoteURL
		task.SourceURL = recipe.Source
	} else {
		task.SourceType = domain.SourceTypeLocalFile
		task.ObjectKey = recipe.Source
	}

	started := time.Now()
	result, err := processor.Process(c.Context, task)
	if err != nil {
		return err
	}
	for _, out := range result.Outputs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%dx%d\t%d bytes\n", out.StepID, out.Path, out.Width, out.Height, out.Bytes)
	}
	logger.Printf("rendered %d output(s) in %s", len(result.Outputs), time.Since(started).Round(time.Millisecond))
	return nil
}
