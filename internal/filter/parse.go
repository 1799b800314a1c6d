package filter

import (
	"strconv"
	"strings"

	"github.com/dunamismax/pixelpass/internal/imgerr"
)

// Of builds an op from positional values, matched to the kind's declared
// parameters in order. Values beyond the declared parameters are dropped.
func Of(kind Kind, values ...float64) Op {
	op := Op{Kind: kind}
	if !kind.valid() {
		return op
	}
	params := catalog[kind].params
	for i, v := range values {
		if i >= len(params) {
			break
		}
		if op.Params == nil {
			op.Params = make(map[string]float64, len(values))
		}
		op.Params[params[i].name] = v
	}
	return op
}

// New resolves a kind by name and validates params against it.
func New(name string, params map[string]float64) (Op, error) {
	kind, ok := ParseKind(name)
	if !ok {
		return Op{}, imgerr.New(imgerr.CodeFilterValidation, "unknown filter %q", name)
	}
	op := Op{Kind: kind, Params: params}
	if err := Validate(op); err != nil {
		return Op{}, err
	}
	return op, nil
}

// Parse reads the compact form used on the command line:
//
//	grayscale
//	brightness:20
//	noise:amount=5,seed=42
func Parse(s string) (Op, error) {
	name, args, _ := strings.Cut(strings.TrimSpace(s), ":")
	kind, ok := ParseKind(name)
	if !ok {
		return Op{}, imgerr.New(imgerr.CodeFilterValidation, "unknown filter %q", name)
	}
	args = strings.TrimSpace(args)
	if args == "" {
		op := Op{Kind: kind}
		return op, Validate(op)
	}

	params := make(map[string]float64)
	for i, part := range strings.Split(args, ",") {
		key, raw, named := strings.Cut(part, "=")
		if !named {
			raw = key
			defs := catalog[kind].params
			if i >= len(defs) {
				return Op{}, imgerr.New(imgerr.CodeFilterValidation, "%s takes %d parameter(s)", kind, len(defs))
			}
			key = defs[i].name
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Op{}, imgerr.Wrap(imgerr.CodeFilterValidation, err, "%s.%s", kind, strings.TrimSpace(key))
		}
		params[strings.TrimSpace(key)] = v
	}

	op := Op{Kind: kind, Params: params}
	if err := Validate(op); err != nil {
		return Op{}, err
	}
	return op, nil
}
