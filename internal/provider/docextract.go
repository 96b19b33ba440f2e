package provider

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"scribepipe/internal/selector"
)

// ErrUnsupportedFormat marks a document extension with no extraction path.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DocResult is the output of document text extraction.
type DocResult struct {
	Text      string
	PageCount int
}

// PageCheck vets the page count before text extraction walks the document.
// A nil check admits any size.
type PageCheck func(pages int) error

// ExtractDocument pulls plain text out of a PDF, DOCX or TXT payload. For
// PDFs the check sees the page count before any page content is read.
func ExtractDocument(filename string, data []byte, check PageCheck) (*DocResult, error) {
	switch selector.FormatForFilename(filename) {
	case selector.DocPDF:
		return extractPDF(data, check)
	case selector.DocDOCX:
		return extractDOCX(data, check)
	case selector.DocText:
		if err := checkPages(check, 1); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, ErrEmptyTranscript
		}
		return &DocResult{Text: text, PageCount: 1}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

func checkPages(check PageCheck, pages int) error {
	if check == nil {
		return nil
	}
	return check(pages)
}

func extractPDF(data []byte, check PageCheck) (*DocResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	if err := checkPages(check, reader.NumPage()); err != nil {
		return nil, err
	}

	res := &DocResult{PageCount: reader.NumPage()}
	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	res.Text = strings.TrimSpace(builder.String())
	if res.Text == "" {
		return nil, ErrEmptyTranscript
	}
	return res, nil
}

// docxDocument mirrors the fragment of word/document.xml we care about:
// paragraphs of text runs.
type docxDocument struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

func extractDOCX(data []byte, check PageCheck) (*DocResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document.xml: %w", err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("docx missing word/document.xml")
	}

	var doc docxDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}

	var paragraphs []string
	for _, p := range doc.Body.Paragraphs {
		var runs []string
		for _, r := range p.Runs {
			runs = append(runs, r.Text)
		}
		if line := strings.TrimSpace(strings.Join(runs, "")); line != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	text := strings.Join(paragraphs, "\n")
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	// DOCX has no fixed pagination; approximate a page per 3000 characters
	// for the quota ceiling.
	pages := len(text)/3000 + 1
	if err := checkPages(check, pages); err != nil {
		return nil, err
	}
	return &DocResult{Text: text, PageCount: pages}, nil
}
