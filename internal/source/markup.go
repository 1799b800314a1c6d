package source

import (
	"encoding/base64"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

// vectorRoot matches an opening svg tag, optionally namespace-prefixed.
var vectorRoot = regexp.MustCompile(`^<(?:[A-Za-z_][\w.-]*:)?svg(?:[\s/>]|$)`)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".jpe": {}, ".gif": {}, ".webp": {},
	".bmp": {}, ".tif": {}, ".tiff": {}, ".svg": {}, ".svgz": {}, ".avif": {},
	".ico": {}, ".heic": {}, ".heif": {},
}

// IsVectorMarkup reports whether the first significant tag of s, after any
// BOM, whitespace, comments, processing instructions and DOCTYPE, is <svg>.
func IsVectorMarkup(s string) bool {
	s = strings.TrimPrefix(s, "\uFEFF")
	return vectorRoot.MatchString(skipProlog(s))
}

func skipProlog(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "<!--"):
			end := strings.Index(s[4:], "-->")
			if end < 0 {
				return ""
			}
			s = s[4+end+3:]
		case strings.HasPrefix(s, "<?"):
			end := strings.Index(s, "?>")
			if end < 0 {
				return ""
			}
			s = s[end+2:]
		case len(s) >= 9 && strings.EqualFold(s[:9], "<!DOCTYPE"):
			end := doctypeEnd(s)
			if end < 0 {
				return ""
			}
			s = s[end+1:]
		default:
			return s
		}
	}
}

// doctypeEnd returns the index of the closing '>' of a DOCTYPE, stepping over
// an internal subset in square brackets.
func doctypeEnd(s string) int {
	gt := strings.IndexByte(s, '>')
	open := strings.IndexByte(s, '[')
	if open < 0 || (gt >= 0 && gt < open) {
		return gt
	}
	closeIdx := strings.IndexByte(s[open:], ']')
	if closeIdx < 0 {
		return -1
	}
	after := strings.IndexByte(s[open+closeIdx:], '>')
	if after < 0 {
		return -1
	}
	return open + closeIdx + after
}

func hasDataScheme(s string) bool {
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

func classifyDataURI(s string) (Source, error) {
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return Source{}, imgerr.New(imgerr.CodeClassification, "data URI has no payload separator")
	}

	params := strings.Split(s[5:comma], ";")
	mime := normalizeMIME(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	payload, err := decodeDataPayload(s[comma+1:], isBase64)
	if err != nil {
		return Source{}, imgerr.Wrap(imgerr.CodeClassification, err, "decode data URI payload")
	}
	if len(payload) == 0 {
		return Source{}, imgerr.New(imgerr.CodeClassification, "data URI payload is empty")
	}

	if mime == "" {
		mime = sniffMIME(payload)
	}

	if mime == MIMEVector {
		text := strings.TrimPrefix(string(payload), "\uFEFF")
		if !IsVectorMarkup(text) {
			return Source{}, imgerr.New(imgerr.CodeClassification, "data URI declares %s but root element is not <svg>", MIMEVector)
		}
		return Source{Kind: KindVectorMarkup, Markup: []byte(strings.TrimSpace(text))}, nil
	}

	if !strings.HasPrefix(mime, "image/") && mime != "application/octet-stream" {
		return Source{}, imgerr.New(imgerr.CodeClassification, "data URI media type %q is not an image", mime)
	}
	return Source{Kind: KindDataURI, MIME: mime, Data: payload}, nil
}

func decodeDataPayload(payload string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, err
		}
		return []byte(decoded), nil
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)
	if unescaped, err := url.PathUnescape(cleaned); err == nil {
		cleaned = unescaped
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(cleaned)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func isReference(s string) bool {
	if strings.ContainsAny(s, "<>\r\n\t") {
		return false
	}
	if isWindowsPath(s) {
		return true
	}

	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return u.Host != ""
		case "file":
			return u.Path != "" || u.Opaque != ""
		case "s3":
			return u.Host != "" && strings.Trim(u.Path, "/") != ""
		default:
			return false
		}
	}

	for _, prefix := range []string{"/", "./", "../", "~/", `.\`, `..\`} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return HasImageExtension(s)
}

func isWindowsPath(s string) bool {
	return len(s) >= 3 && s[1] == ':' && (s[2] == '\\' || s[2] == '/') &&
		((s[0] >= 'a' && s[0] <= 'z') || (s[0] >= 'A' && s[0] <= 'Z'))
}

// HasImageExtension ignores any query string or fragment on URL-like input.
func HasImageExtension(ref string) bool {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(strings.ReplaceAll(ref, `\`, "/")))]
	return ok
}

func sniffMIME(data []byte) string {
	return normalizeMIME(mimetype.Detect(data).String())
}

func normalizeMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	m = strings.ToLower(strings.TrimSpace(m))
	switch m {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/svg":
		return MIMEVector
	}
	return m
}

func looksTextual(mime string) bool {
	return strings.HasPrefix(mime, "text/") || mime == "application/xml" || strings.HasSuffix(mime, "+xml")
}
