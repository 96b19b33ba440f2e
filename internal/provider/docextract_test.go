package provider

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/jung-kurt/gofpdf/v2"
)

func TestExtractDocumentText(t *testing.T) {
	res, err := ExtractDocument("notes.txt", []byte("  Line one.\nLine two.  "), nil)
	if err != nil {
		t.Fatalf("extract txt: %v", err)
	}
	if res.Text != "Line one.\nLine two." {
		t.Errorf("text = %q", res.Text)
	}
	if res.PageCount != 1 {
		t.Errorf("page count = %d, want 1", res.PageCount)
	}
}

func TestExtractDocumentEmptyText(t *testing.T) {
	if _, err := ExtractDocument("empty.txt", []byte("   \n  "), nil); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("got %v, want ErrEmptyTranscript", err)
	}
}

func TestExtractDocumentUnsupported(t *testing.T) {
	if _, err := ExtractDocument("archive.zip", []byte("whatever"), nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDocumentDOCX(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <body>
    <p><r><t>First paragraph</t></r><r><t> continued.</t></r></p>
    <p><r><t></t></r></p>
    <p><r><t>Second paragraph.</t></r></p>
  </body>
</document>`

	res, err := ExtractDocument("minutes.docx", buildDOCX(t, doc), nil)
	if err != nil {
		t.Fatalf("extract docx: %v", err)
	}
	want := "First paragraph continued.\nSecond paragraph."
	if res.Text != want {
		t.Errorf("text = %q, want %q", res.Text, want)
	}
	if res.PageCount != 1 {
		t.Errorf("page count = %d, want 1", res.PageCount)
	}
}

func TestExtractDocumentDOCXMissingDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("word/styles.xml"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = zw.Close()

	if _, err := ExtractDocument("broken.docx", buf.Bytes(), nil); err == nil {
		t.Fatal("expected error for docx without document.xml")
	}
}

func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 12)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, fmt.Sprintf("Page %d", i+1))
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDocumentPDFPageCheck(t *testing.T) {
	ceiling := errors.New("page ceiling")
	var seen int
	_, err := ExtractDocument("big.pdf", buildPDF(t, 3), func(pages int) error {
		seen = pages
		return ceiling
	})
	if !errors.Is(err, ceiling) {
		t.Fatalf("check error not propagated: %v", err)
	}
	if seen != 3 {
		t.Errorf("check saw %d pages, want 3", seen)
	}
}

func TestExtractDocumentPageCheckOnText(t *testing.T) {
	var seen int
	res, err := ExtractDocument("notes.txt", []byte("body"), func(pages int) error {
		seen = pages
		return nil
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if seen != 1 || res.PageCount != 1 {
		t.Errorf("pages: check saw %d, result %d, want 1", seen, res.PageCount)
	}
}

func TestExtractDocumentCorruptPDF(t *testing.T) {
	if _, err := ExtractDocument("broken.pdf", []byte("not a pdf"), nil); err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
}
