package ingestion

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

// buildDocx zips a minimal Word package around body, the inner XML of w:body.
func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	files := map[string]string{
		"[Content_Types].xml":          `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"/>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body + `</w:body></w:document>`,
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractText_PlainAndMarkdown(t *testing.T) {
	t.Parallel()
	got, err := ExtractText(FormatMarkdown, []byte("\n# Security\n\nWe are SOC 2 certified.\n"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "# Security\n\nWe are SOC 2 certified." {
		t.Errorf("unexpected text %q", got)
	}

	got, err = ExtractText(FormatText, []byte("ok \xff text"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "ok  text" {
		t.Errorf("invalid UTF-8 not dropped: %q", got)
	}
}

func TestExtractText_Empty(t *testing.T) {
	t.Parallel()
	if _, err := ExtractText(FormatText, []byte(" \n\t ")); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}
}

func TestExtractText_BadPDF(t *testing.T) {
	t.Parallel()
	if _, err := ExtractText(FormatPDF, []byte("not a pdf")); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestExtractText_DOCX(t *testing.T) {
	t.Parallel()
	data := buildDocx(t,
		`<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr>`+
			`<w:r><w:t>Data is encrypted</w:t></w:r><w:r><w:t xml:space="preserve"> at rest.</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Region</w:t><w:tab/><w:t>EU &amp; US</w:t><w:br/><w:t>24/7 support</w:t></w:r></w:p>`)

	got, err := ExtractText(FormatDOCX, data)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	want := "Data is encrypted at rest.\nRegion\tEU & US\n24/7 support"
	if got != want {
		t.Errorf("text = %q, want %q", got, want)
	}

	if _, err := ExtractText(FormatDOCX, buildDocx(t, `<w:p/>`)); !errors.Is(err, ErrNoText) {
		t.Errorf("empty docx: expected ErrNoText, got %v", err)
	}
	if _, err := ExtractText(FormatDOCX, []byte("PK not really")); err == nil {
		t.Error("expected error for malformed docx")
	}
}

func TestRead(t *testing.T) {
	t.Parallel()
	text, format, err := Read("answers.txt", "", []byte("Uptime is 99.9%."))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if format != FormatText || text != "Uptime is 99.9%." {
		t.Errorf("Read = %q, %q", text, format)
	}
	if _, _, err := Read("scan.doc", "", []byte("x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
