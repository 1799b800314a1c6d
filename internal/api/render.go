package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/filter"
	"github.com/dunamismax/pixelpass/internal/imgerr"
	"github.com/dunamismax/pixelpass/internal/output"
	"github.com/dunamismax/pixelpass/internal/pipeline"
	"github.com/dunamismax/pixelpass/internal/source"
)

const (
	HeaderImageWidth    = "X-Image-Width"
	HeaderImageHeight   = "X-Image-Height"
	HeaderRenderElapsed = "X-Render-Elapsed-Ms"
)

// handleRender renders the request body synchronously. Geometry, filters and
// output come from the query string:
//
//	fit=cover&w=300&h=200&position=top&background=%23fff
//	scale=0.5 | sx=2&sy=1
//	crop=x,y,w,h
//	filter=brightness:20&filter=noise:amount=5,seed=42
//	format=webp&quality=0.8&fallback=png
//	name=card.jpg   attachment via ToFile
//	as=datauri      text/plain data URI via ToString
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.renderDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	}()

	step, err := parseRenderQuery(r.URL.Query())
	if err != nil {
		writeRenderError(w, http.StatusBadRequest, err)
		return
	}

	body, err := readBody(w, r, s.maxRenderBytes)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeRenderError(w, status, err)
		return
	}

	req, err := s.engine.Load(source.Binary{Data: body, MIME: r.Header.Get("Content-Type")})
	if err != nil {
		writeRenderError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	if err := pipeline.ApplyStep(req, step); err != nil {
		writeRenderError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.renderTimeout)
	defer cancel()

	query := r.URL.Query()
	var (
		data    []byte
		mime    string
		meta    *output.Metadata
		format  output.Format
		attach  string
		textual bool
	)
	switch {
	case strings.EqualFold(query.Get("as"), "datauri"):
		text, err := req.ToString(ctx)
		if err != nil {
			writeRenderError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		data, mime, meta, format, textual = []byte(text.Value), "text/plain; charset=utf-8", text.Metadata, text.Format, true
	case query.Get("name") != "":
		file, err := req.ToFile(ctx, query.Get("name"))
		if err != nil {
			writeRenderError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		data, mime, meta, format, attach = file.Data, file.MIME, file.Metadata, file.Format, file.Name
	default:
		bin, err := req.ToBinary(ctx)
		if err != nil {
			writeRenderError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		data, mime, meta, format = bin.Data, bin.MIME, bin.Metadata, bin.Format
	}

	outcome = "ok"
	s.metrics.renderTotal.WithLabelValues(string(format), strconv.FormatBool(textual)).Inc()

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if meta != nil {
		w.Header().Set(HeaderImageWidth, strconv.Itoa(meta.Width))
		w.Header().Set(HeaderImageHeight, strconv.Itoa(meta.Height))
		w.Header().Set(HeaderRenderElapsed, strconv.FormatInt(meta.Elapsed.Milliseconds(), 10))
	}
	if attach != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attach))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}
	return data, nil
}

// parseRenderQuery maps query parameters onto the same step shape jobs use,
// so both paths share validation and ApplyStep.
func parseRenderQuery(q url.Values) (domain.RenderStep, error) {
	step := domain.RenderStep{
		ID:             "render",
		Format:         q.Get("format"),
		FallbackFormat: q.Get("fallback"),
	}

	var err error
	if step.Quality, err = floatParam(q, "quality"); err != nil {
		return step, err
	}

	if mode := q.Get("fit"); mode != "" {
		fs := &domain.FitStep{Mode: mode, Position: q.Get("position"), Background: q.Get("background")}
		if fs.Width, err = intParam(q, "w"); err != nil {
			return step, err
		}
		if fs.Height, err = intParam(q, "h"); err != nil {
			return step, err
		}
		step.Fit = fs
	}

	if q.Has("scale") || q.Has("sx") || q.Has("sy") {
		sc := &domain.ScaleStep{}
		if sc.Factor, err = floatParam(q, "scale"); err != nil {
			return step, err
		}
		if sc.X, err = floatParam(q, "sx"); err != nil {
			return step, err
		}
		if sc.Y, err = floatParam(q, "sy"); err != nil {
			return step, err
		}
		step.Scale = sc
	}

	if raw := q.Get("crop"); raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) != 4 {
			return step, fmt.Errorf("crop must be x,y,w,h")
		}
		vals := make([]int, 4)
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return step, fmt.Errorf("crop: %w", err)
			}
			vals[i] = v
		}
		step.Crop = &domain.CropStep{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	}

	for i, raw := range q["filter"] {
		op, err := filter.Parse(raw)
		if err != nil {
			return step, fmt.Errorf("filter[%d]: %w", i, err)
		}
		step.Filters = append(step.Filters, domain.FilterStep{Kind: op.Kind.String(), Params: op.Params})
	}
	return step, nil
}

func intParam(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func floatParam(q url.Values, key string) (float64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// statusFor maps the render error taxonomy onto HTTP. Errors without a code
// get fallback.
func statusFor(err error, fallback int) int {
	switch imgerr.CodeOf(err) {
	case imgerr.CodeClassification, imgerr.CodeDecode:
		return http.StatusUnsupportedMediaType
	case imgerr.CodeInvalidDimension, imgerr.CodeInvalidFitSpec, imgerr.CodeMultipleResize, imgerr.CodeFilterValidation:
		return http.StatusBadRequest
	case imgerr.CodeUnsupportedFormat:
		return http.StatusNotAcceptable
	case imgerr.CodeAlreadyConsumed:
		return http.StatusConflict
	case imgerr.CodeEncode:
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return fallback
}

func writeRenderError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if code := imgerr.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	writeJSON(w, status, body)
}
