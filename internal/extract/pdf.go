package extract

import (
	"bytes"
	"io"
	"strings"

	"github.com/gen2brain/go-fitz"
	ledongthuc "github.com/ledongthuc/pdf"
	rscpdf "rsc.io/pdf"
)

// pdfMethods is the PDF fallback chain, highest fidelity first. Order
// matters: fitz renders through MuPDF and handles most real-world layouts,
// the ledongthuc reader tolerates odd text encodings, and the rsc reader is
// a minimal last resort.
func pdfMethods() []method {
	return []method{
		{name: "fitz", fn: extractFitz},
		{name: "ledongthuc", fn: extractLedongthuc},
		{name: "rscpdf", fn: extractRsc},
	}
}

func extractFitz(blob []byte) (string, int, error) {
	doc, err := fitz.NewFromMemory(blob)
	if err != nil {
		return "", 0, err
	}
	defer doc.Close()

	var b strings.Builder
	pages := doc.NumPage()
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", 0, err
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), pages, nil
}

func extractLedongthuc(blob []byte) (string, int, error) {
	r, err := ledongthuc.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", 0, err
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, err
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", 0, err
	}
	return string(text), r.NumPage(), nil
}

func extractRsc(blob []byte) (string, int, error) {
	r, err := rscpdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content := page.Content()
		var lastY float64
		for _, t := range content.Text {
			if lastY != 0 && t.Y != lastY {
				b.WriteString("\n")
			}
			b.WriteString(t.S)
			lastY = t.Y
		}
		b.WriteString("\n")
	}
	return b.String(), pages, nil
}
