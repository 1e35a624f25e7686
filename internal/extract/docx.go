package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
)

func extractDocx(blob []byte) (string, int, error) {
	doc, err := docx.Parse(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	for _, item := range doc.Document.Body.Items {
		s, ok := item.(fmt.Stringer)
		if !ok {
			continue
		}
		text := s.String()
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	text := b.String()
	return text, estimatePages(text), nil
}
