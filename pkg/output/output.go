// Package output renders response envelopes for the terminal.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/entrhq/pw/pkg/protocol"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// Format selects how responses are written.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatText   Format = "text"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatNDJSON, FormatText:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", types.NewError(types.CodeInvalidInput, "unknown output format %q (want json, ndjson or text)", s)
}

// ColorMode controls styling in text output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode validates a --color value.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	case "":
		return ColorAuto, nil
	}
	return "", types.NewError(types.CodeInvalidInput, "unknown color mode %q (want auto, always or never)", s)
}

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	mintGreen  = lipgloss.Color("#A8E6CF")
	mutedGray  = lipgloss.Color("#6B7280")
	amber      = lipgloss.Color("#FCD34D")
)

// Printer writes envelopes to one stream.
type Printer struct {
	w      io.Writer
	format Format
	color  bool

	okStyle    lipgloss.Style
	errorStyle lipgloss.Style
	opStyle    lipgloss.Style
	tipsStyle  lipgloss.Style
	warnStyle  lipgloss.Style
}

// NewPrinter builds a printer. Color only affects FormatText.
func NewPrinter(w io.Writer, format Format, mode ColorMode) *Printer {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.TrueColor)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:          w,
		format:     format,
		color:      r.ColorProfile() != termenv.Ascii,
		okStyle:    r.NewStyle().Foreground(mintGreen).Bold(true),
		errorStyle: r.NewStyle().Foreground(salmonPink).Bold(true),
		opStyle:    r.NewStyle().Bold(true),
		tipsStyle:  r.NewStyle().Foreground(mutedGray),
		warnStyle:  r.NewStyle().Foreground(amber),
	}
}

// Print writes one response.
func (p *Printer) Print(resp protocol.ResponseEnvelope) error {
	switch p.format {
	case FormatNDJSON:
		return json.NewEncoder(p.w).Encode(resp)
	case FormatText:
		return p.text(resp)
	default:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
}

// PrintValue writes a value that is not an envelope, such as daemon
// listings.
func (p *Printer) PrintValue(v interface{}) error {
	if p.format == FormatNDJSON {
		return json.NewEncoder(p.w).Encode(v)
	}
	return p.writeJSON(v, "")
}

func (p *Printer) text(resp protocol.ResponseEnvelope) error {
	var b strings.Builder

	rt := resp.EffectiveRuntime
	mode := "headed"
	if rt.Headless {
		mode = "headless"
	}
	meta := p.tipsStyle.Render(fmt.Sprintf("%dms · %s · %s · %s", resp.DurationMs, rt.Profile, rt.Browser, mode))

	if resp.OK {
		fmt.Fprintf(&b, "%s %s  %s\n", p.okStyle.Render("✓"), p.opStyle.Render(resp.Op), meta)
	} else {
		fmt.Fprintf(&b, "%s %s  %s\n", p.errorStyle.Render("✗"), p.opStyle.Render(resp.Op), meta)
		if resp.Error != nil {
			fmt.Fprintf(&b, "  %s %s\n", p.errorStyle.Render(string(resp.Error.Code)), resp.Error.Message)
			for _, k := range sortedKeys(resp.Error.Details) {
				fmt.Fprintf(&b, "    %s %v\n", p.tipsStyle.Render(k+":"), resp.Error.Details[k])
			}
		}
	}

	for _, d := range resp.Diagnostics {
		b.WriteString("  " + p.diagnostic(d) + "\n")
	}
	for _, a := range resp.Artifacts {
		fmt.Fprintf(&b, "  %s %s\n", p.tipsStyle.Render(a.Kind), a.Path)
	}
	if resp.ContextDelta != nil && !resp.ContextDelta.IsEmpty() {
		fmt.Fprintf(&b, "  %s\n", p.tipsStyle.Render("context updated"))
	}

	if _, err := io.WriteString(p.w, b.String()); err != nil {
		return types.WrapError(types.CodeIOError, err, "failed to write output")
	}
	if resp.Data == nil {
		return nil
	}
	return p.writeJSON(resp.Data, "  ")
}

func (p *Printer) diagnostic(d tools.Diagnostic) string {
	label := string(d.Level)
	if d.Source != "" {
		label += " [" + d.Source + "]"
	}
	switch d.Level {
	case tools.DiagnosticError:
		label = p.errorStyle.Render(label)
	case tools.DiagnosticWarning:
		label = p.warnStyle.Render(label)
	default:
		label = p.tipsStyle.Render(label)
	}
	return label + " " + d.Message
}

// writeJSON indents v and highlights it when the printer has color.
func (p *Printer) writeJSON(v interface{}, prefix string) error {
	raw, err := json.MarshalIndent(v, prefix, "  ")
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to encode output")
	}
	source := prefix + string(raw) + "\n"

	if p.color {
		var buf bytes.Buffer
		if err := quick.Highlight(&buf, source, "json", "terminal256", "monokai"); err == nil {
			_, err = p.w.Write(buf.Bytes())
			return err
		}
	}
	_, err = io.WriteString(p.w, source)
	return err
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
