package fit

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

// ParseBackground reads #rgb, #rrggbb and #rrggbbaa. Empty, "none" and
// "transparent" return nil, which leaves uncovered canvas transparent.
func ParseBackground(s string) (color.Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "transparent":
		return nil, nil
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}

	alpha := uint8(255)
	if len(s) == 9 {
		a, err := strconv.ParseUint(s[7:], 16, 8)
		if err != nil {
			return nil, imgerr.Wrap(imgerr.CodeInvalidFitSpec, err, "background %q", s)
		}
		alpha = uint8(a)
		s = s[:7]
	}

	c, err := colorful.Hex(s)
	if err != nil {
		return nil, imgerr.Wrap(imgerr.CodeInvalidFitSpec, err, "background %q", s)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}, nil
}
