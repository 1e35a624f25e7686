package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// ErrNoText means every extraction method was tried and none produced text.
var ErrNoText = errors.New("no text could be extracted")

// ErrUnsupportedFormat means the declared format has no extraction handler.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Result carries extracted plain text plus extraction metadata.
type Result struct {
	Text      string
	PageCount int
	Method    string
}

// method is one entry of a fallback chain. ok=false with a nil error means
// "ran fine but found no text"; an error means the method itself broke. The
// chain continues in both cases, but the distinction is logged so a corrupt
// file looks different from an empty one.
type method struct {
	name string
	fn   func(blob []byte) (text string, pages int, err error)
}

// Extract converts a raw document blob into plain text. The declared format
// decides the handler; for PDF a fixed fallback chain of three libraries is
// tried in order and the first non-empty result wins.
func Extract(blob []byte, format string) (Result, error) {
	switch normalizeFormat(format) {
	case "pdf":
		return runChain(blob, pdfMethods())
	case "docx":
		return runChain(blob, []method{{name: "go-docx", fn: extractDocx}})
	case "txt":
		return extractPlain(blob)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// FormatFromPath maps a file extension to a declared format.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "pdf"
	case ".docx", ".doc":
		return "docx"
	default:
		return "txt"
	}
}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	switch f {
	case "pdf":
		return "pdf"
	case "docx", "doc":
		return "docx"
	case "txt", "md", "markdown", "text", "csv", "json", "":
		return "txt"
	default:
		return f
	}
}

func runChain(blob []byte, methods []method) (Result, error) {
	if len(blob) == 0 {
		return Result{}, ErrNoText
	}

	for _, m := range methods {
		text, pages, err := safeExtract(m, blob)
		if err != nil {
			slog.Debug("extraction method failed, trying next", "method", m.name, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			slog.Debug("extraction method produced no text, trying next", "method", m.name)
			continue
		}
		return Result{Text: text, PageCount: pages, Method: m.name}, nil
	}
	return Result{}, ErrNoText
}

// safeExtract shields the chain from library panics so a broken parser
// degrades to trying the next method.
func safeExtract(m method, blob []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", m.name, r)
		}
	}()
	return m.fn(blob)
}

func extractPlain(blob []byte) (Result, error) {
	text := strings.ToValidUTF8(string(blob), "")
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrNoText
	}
	return Result{Text: text, PageCount: estimatePages(text), Method: "plain"}, nil
}

// estimatePages approximates a page count for formats without page structure.
func estimatePages(text string) int {
	words := len(strings.Fields(text))
	pages := (words + 299) / 300
	if pages < 1 {
		pages = 1
	}
	return pages
}
