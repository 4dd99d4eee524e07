package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document yields no usable text.
var ErrNoText = errors.New("ingestion: document has no text")

// ExtractText converts raw document bytes to text according to format. The
// result is trimmed; an empty result is reported as ErrNoText.
func ExtractText(format Format, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch format {
	case FormatText, FormatMarkdown:
		text = strings.ToValidUTF8(string(data), "")
	case FormatPDF:
		text, err = pdfText(data)
	case FormatDOCX:
		text, err = docxText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Read detects the format of an upload and extracts its text.
func Read(filename, contentType string, data []byte) (string, Format, error) {
	format, err := DetectFormat(filename, contentType)
	if err != nil {
		return "", "", err
	}
	text, err := ExtractText(format, data)
	if err != nil {
		return "", format, err
	}
	return text, format, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("ingestion: open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("ingestion: read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("ingestion: read pdf text: %w", err)
	}
	return buf.String(), nil
}
