// Package docparse extracts plain text from files ingested by the
// filesystem source agent. Grounded on the teacher's ParserManager/
// PDFParser/TextParser (rag/parse.go): a file-type detector dispatches
// to a parser keyed by type, with PDF extracted page-by-page via
// ledongthuc/pdf and everything else read verbatim. Generalized from
// extension-only detection to content-sniffing via gabriel-vasile/
// mimetype, since ingested files do not always carry a reliable
// extension.
package docparse

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// Extract reads path and returns its plain text content plus a short
// file-type label ("pdf" or "text") suitable for document metadata.
func Extract(path string) (text string, fileType string, err error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", "", fmt.Errorf("docparse: detect type: %w", err)
	}

	if mt.Is("application/pdf") {
		text, err := extractPDF(path)
		if err != nil {
			return "", "", err
		}
		return text, "pdf", nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("docparse: read %s: %w", path, err)
	}
	return string(content), "text", nil
}

func extractPDF(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("docparse: open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("docparse: stat %s: %w", path, err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("docparse: open pdf reader for %s: %w", path, err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("docparse: extract page %d of %s: %w", i, path, err)
		}
		sb.WriteString(pageText)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}
