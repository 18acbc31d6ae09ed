package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// Response is the success envelope.
type Response struct {
	OK      bool           `json:"ok" yaml:"ok"`
	Data    any            `json:"data,omitempty" yaml:"data,omitempty"`
	Summary string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Meta    map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error" yaml:"error"`
	Code  string `json:"code" yaml:"code"`
	Hint  string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Format specifies the output format.
type Format int

const (
	FormatAuto   Format = iota // TTY → Styled, otherwise JSON
	FormatJSON
	FormatYAML
	FormatStyled // ANSI styled, even when piped
	FormatQuiet  // data only, as JSON
)

// ParseFormat maps a config or flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "styled":
		return FormatStyled, nil
	case "quiet":
		return FormatQuiet, nil
	}
	return FormatAuto, ErrUsageHint(fmt.Sprintf("unknown format %q", s), "Use one of: auto, json, yaml, styled, quiet")
}

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatStyled:
		return "styled"
	case FormatQuiet:
		return "quiet"
	}
	return "auto"
}

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer

	// JQ filters the envelope through a jq expression. Results are
	// printed one per line; strings are printed raw.
	JQ string
}

// Writer handles all output formatting.
type Writer struct {
	opts  Options
	query *gojq.Code
}

// New creates an output writer. An invalid JQ expression is a usage error.
func New(opts Options) (*Writer, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	w := &Writer{opts: opts}
	if opts.JQ != "" {
		q, err := gojq.Parse(opts.JQ)
		if err != nil {
			return nil, ErrUsageHint(fmt.Sprintf("invalid --jq expression: %v", err), "See https://jqlang.org/manual/")
		}
		code, err := gojq.Compile(q)
		if err != nil {
			return nil, ErrUsage(fmt.Sprintf("invalid --jq expression: %v", err))
		}
		w.query = code
	}
	return w, nil
}

// Format returns the effective format after TTY detection.
func (w *Writer) Format() Format {
	if w.opts.Format != FormatAuto {
		return w.opts.Format
	}
	if isTTY(w.opts.Writer) {
		return FormatStyled
	}
	return FormatJSON
}

// Out is the underlying writer.
func (w *Writer) Out() io.Writer { return w.opts.Writer }

// OK outputs a success response.
func (w *Writer) OK(data any, opts ...ResponseOption) error {
	resp := &Response{OK: true, Data: data}
	for _, opt := range opts {
		opt(resp)
	}
	return w.write(resp)
}

// Err outputs an error response.
func (w *Writer) Err(err error) error {
	e := AsError(err)
	return w.write(&ErrorResponse{
		OK:    false,
		Error: e.Message,
		Code:  e.Code,
		Hint:  e.Hint,
	})
}

func (w *Writer) write(v any) error {
	if w.query != nil {
		return w.writeJQ(v)
	}

	switch w.Format() {
	case FormatQuiet:
		if resp, ok := v.(*Response); ok {
			return w.writeJSON(resp.Data)
		}
		return w.writeJSON(v)
	case FormatYAML:
		return w.writeYAML(v)
	case FormatStyled:
		return w.writeStyled(v)
	default:
		return w.writeJSON(v)
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.opts.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML goes through JSON first so json tags (and MarshalJSON
// methods) decide the field names.
func (w *Writer) writeYAML(v any) error {
	enc := yaml.NewEncoder(w.opts.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(NormalizeData(v)); err != nil {
		return err
	}
	return enc.Close()
}

func (w *Writer) writeJQ(v any) error {
	iter := w.query.Run(NormalizeData(v))
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := out.(error); ok {
			if herr, ok := err.(*gojq.HaltError); ok && herr.Value() == nil {
				return nil
			}
			return ErrUsage(fmt.Sprintf("--jq: %v", err))
		}
		if s, ok := out.(string); ok {
			if _, err := fmt.Fprintln(w.opts.Writer, s); err != nil {
				return err
			}
			continue
		}
		b, err := gojq.Marshal(out)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w.opts.Writer, string(b)); err != nil {
			return err
		}
	}
}

func (w *Writer) writeStyled(v any) error {
	r := NewRenderer(w.opts.Writer, true)
	switch resp := v.(type) {
	case *Response:
		return r.RenderResponse(w.opts.Writer, resp)
	case *ErrorResponse:
		return r.RenderError(w.opts.Writer, resp)
	default:
		return w.writeJSON(v)
	}
}

// NormalizeData converts typed values to plain maps, slices and scalars
// via a JSON round trip. Values that do not marshal are returned as-is.
func NormalizeData(data any) any {
	switch data.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return data
	}
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return data
	}
	return out
}

// ResponseOption modifies a Response.
type ResponseOption func(*Response)

// WithSummary adds a summary to the response.
func WithSummary(s string) ResponseOption {
	return func(r *Response) { r.Summary = s }
}

// WithMeta adds metadata to the response.
func WithMeta(key string, value any) ResponseOption {
	return func(r *Response) {
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[key] = value
	}
}
