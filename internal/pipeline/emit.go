package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/output"
)

// LocalFileEmitter writes outputs to OutputDir/<job_id>/<file name>, or
// straight into OutputDir when Flat is set.
type LocalFileEmitter struct {
	OutputDir string
	Flat      bool
}

func (e LocalFileEmitter) Emit(_ context.Context, task Task, step domain.RenderStep, file output.File) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("step id is required")
	}

	jobDir := e.OutputDir
	if !e.Flat {
		jobDir = filepath.Join(e.OutputDir, sanitizePathToken(task.JobID))
	}
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputFileName(file))
	if err := os.WriteFile(fullPath, file.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}
	return newOutput(step, file, fullPath), nil
}

// ObjectWriter is the write side of the object store client.
type ObjectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectPresigner is implemented by stores that can hand out download links.
type ObjectPresigner interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// ObjectStoreEmitter writes outputs to <prefix>/<job_id>/<file name>. With a
// positive URLTTL and a Storage that is also an ObjectPresigner, each output
// carries a download URL.
type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
	URLTTL       time.Duration
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, task Task, step domain.RenderStep, file output.File) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("step id is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(task.JobID),
		outputFileName(file),
	)
	if err := e.Storage.WriteObject(ctx, objectKey, file.Data, file.MIME); err != nil {
		return Output{}, err
	}
	out := newOutput(step, file, objectKey)

	if presigner, ok := e.Storage.(ObjectPresigner); ok && e.URLTTL > 0 {
		u, err := presigner.PresignedGetURL(ctx, objectKey, e.URLTTL)
		if err != nil {
			return Output{}, err
		}
		out.URL = u
	}
	return out, nil
}

func newOutput(step domain.RenderStep, file output.File, location string) Output {
	out := Output{
		StepID: step.ID,
		Format: string(file.Format),
		MIME:   file.MIME,
		Path:   location,
		Bytes:  len(file.Data),
	}
	if file.Metadata != nil {
		out.Width = file.Metadata.Width
		out.Height = file.Metadata.Height
		out.Elapsed = file.Metadata.Elapsed
	}
	return out
}

// outputFileName keeps the extension chosen by the converter and flattens
// everything else to a safe token.
func outputFileName(file output.File) string {
	base := path.Base(filepath.ToSlash(file.Name))
	ext := path.Ext(base)
	stem := sanitizePathToken(strings.TrimSuffix(base, ext))
	if ext == "" || ext == "." {
		ext = "." + file.Format.Extension()
	}
	return stem + "." + sanitizePathToken(strings.TrimPrefix(ext, "."))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
