package ingestion

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Format is the on-disk encoding of an uploaded document.
type Format string

const (
	// FormatText is plain UTF-8 text.
	FormatText Format = "text"
	// FormatMarkdown is stored verbatim like text.
	FormatMarkdown Format = "markdown"
	// FormatPDF is converted to text before storage.
	FormatPDF Format = "pdf"
	// FormatDOCX is a Word 2007+ document; its body text is stored.
	FormatDOCX Format = "docx"
)

// ErrUnsupportedFormat is returned for files no extractor handles.
var ErrUnsupportedFormat = errors.New("ingestion: unsupported document format")

// extensionFormats maps lowercase file extensions to formats.
var extensionFormats = map[string]Format{
	".txt":      FormatText,
	".text":     FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
}

// mediaFormats maps MIME media types to formats.
var mediaFormats = map[string]Format{
	"text/plain":      FormatText,
	"text/markdown":   FormatMarkdown,
	"text/x-markdown": FormatMarkdown,
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
}

// DetectFormat infers the format of an upload. The filename extension wins;
// the Content-Type header is consulted when the extension is missing or
// unknown. Legacy binary .doc files are rejected explicitly so the caller gets
// a clear message rather than garbage text.
func DetectFormat(filename, contentType string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	if ext == ".doc" {
		return "", fmt.Errorf("%w: %s (save as .docx, PDF or text first)", ErrUnsupportedFormat, ext)
	}

	if contentType != "" {
		media, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if f, ok := mediaFormats[strings.ToLower(media)]; ok {
				return f, nil
			}
		}
	}
	if ext == "" && contentType == "" {
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

// TitleFromFilename derives a human-readable title: the base name without its
// extension, with underscores and dashes turned into spaces.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}
