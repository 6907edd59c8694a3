package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ANSI color escape codes used by the terminal handler.
const (
	ansiReset  = "\033[0m"
	ansiGray   = "\033[37m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// TerminalHandler renders records as aligned, optionally colored text:
//
//	[2024-01-01 12:00:00] INFO  sealed block module=consensus index=7
//
// Attribute keys are emitted in the order they were attached.
type TerminalHandler struct {
	mu    sync.Mutex
	w     io.Writer
	level slog.Level
	color bool
	attrs []slog.Attr
}

// NewTerminalHandler creates a handler writing to w. When w is an
// interactive terminal, output is routed through go-colorable and colored
// per level; otherwise plain text is written.
func NewTerminalHandler(w io.Writer, level slog.Level) *TerminalHandler {
	color := false
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		color = true
		w = colorable.NewColorable(f)
	}
	return &TerminalHandler{w: w, level: level, color: color}
}

// Enabled implements slog.Handler.
func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// WithAttrs implements slog.Handler.
func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TerminalHandler{w: h.w, level: h.level, color: h.color, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are flattened; the ledger's call
// sites do not use them.
func (h *TerminalHandler) WithGroup(string) slog.Handler { return h }

// Handle implements slog.Handler.
func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteString("] ")
	if h.color {
		b.WriteString(colorForLevel(r.Level))
	}
	fmt.Fprintf(&b, "%-5s", levelName(r.Level))
	if h.color {
		b.WriteString(ansiReset)
	}
	b.WriteString(" ")
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	b.WriteString(" ")
	b.WriteString(a.Key)
	b.WriteString("=")
	v := a.Value.Resolve()
	if v.Kind() == slog.KindTime {
		b.WriteString(v.Time().Format(time.RFC3339))
		return
	}
	fmt.Fprintf(b, "%v", v.Any())
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func colorForLevel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l >= slog.LevelInfo:
		return ansiGreen
	default:
		return ansiGray
	}
}
