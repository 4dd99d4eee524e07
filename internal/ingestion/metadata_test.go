package ingestion

import (
	"errors"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		filename    string
		contentType string
		want        Format
		wantErr     bool
	}{
		{name: "txt extension", filename: "policies.txt", want: FormatText},
		{name: "upper-case pdf", filename: "RFP-2026.PDF", want: FormatPDF},
		{name: "markdown", filename: "security.md", want: FormatMarkdown},
		{name: "extension beats content type", filename: "notes.txt", contentType: "application/pdf", want: FormatText},
		{name: "content type fallback", filename: "upload", contentType: "application/pdf", want: FormatPDF},
		{name: "content type with params", filename: "blob", contentType: "text/plain; charset=utf-8", want: FormatText},
		{name: "bare body defaults to text", want: FormatText},
		{name: "docx", filename: "proposal.docx", want: FormatDOCX},
		{name: "docx content type", filename: "upload", contentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", want: FormatDOCX},
		{name: "legacy doc rejected", filename: "proposal.doc", wantErr: true},
		{name: "unknown extension", filename: "image.png", contentType: "image/png", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DetectFormat(tc.filename, tc.contentType)
			if tc.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("DetectFormat(%q, %q) = %q, want %q", tc.filename, tc.contentType, got, tc.want)
			}
		})
	}
}

func TestTitleFromFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"company_security-policy.pdf", "company security policy"},
		{"/tmp/uploads/RFP 2026.txt", "RFP 2026"},
		{"README", "README"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := TitleFromFilename(tc.in); got != tc.want {
			t.Errorf("TitleFromFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
