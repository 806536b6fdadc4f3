// Package parser extracts text from knowledge source files. Markdown and
// plain text files are returned as authored so paragraph boundaries
// survive into chunking; rich formats (pdf, office documents,
// spreadsheets) are extracted and normalized to plain text.
package parser

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat marks a file extension no extractor handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ExtractFile reads one source document and returns its text content.
func ExtractFile(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".md", ".markdown", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case ".pdf":
		text, err = extractPDF(path)
	case ".docx":
		text, err = extractDOCX(path)
	case ".pptx":
		text, err = extractPPTX(path)
	case ".xlsx":
		text, err = extractXLSX(path)
	case ".ods":
		text, err = extractODS(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}
	return PlainText([]byte(text)), nil
}

func extractPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return xmlParagraphText(r.Editable().GetContent(), "w"), nil
}

func extractPPTX(path string) (string, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var slides []string
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		if text := xmlParagraphText(string(data), "a"); text != "" {
			slides = append(slides, text)
		}
	}
	return strings.Join(slides, "\n\n"), nil
}

func extractXLSX(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", err
	}

	var sheets []string
	for _, sheet := range f.Sheets {
		var b strings.Builder
		b.WriteString("Sheet: " + sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				if v := strings.TrimSpace(cell.String()); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				b.WriteString("\n" + strings.Join(cells, "\t"))
			}
		}
		sheets = append(sheets, b.String())
	}
	return strings.Join(sheets, "\n\n"), nil
}

func extractODS(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		var b strings.Builder
		b.WriteString("Sheet: " + name)
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if v := strings.TrimSpace(cell); v != "" {
					cells = append(cells, v)
				}
			}
			if len(cells) > 0 {
				b.WriteString("\n" + strings.Join(cells, "\t"))
			}
		}
		sheets = append(sheets, b.String())
	}
	return strings.Join(sheets, "\n\n"), nil
}

// xmlUnescaper resolves the five predefined XML entities. A single pass
// keeps double-escaped input double-escaped.
var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// xmlParagraphText pulls text runs out of raw office XML, joining runs
// within a paragraph seamlessly and paragraphs with a blank line. ns is
// the namespace prefix of the document type, "w" for wordprocessing and
// "a" for drawing markup.
func xmlParagraphText(content, ns string) string {
	var paragraphs []string
	for _, part := range strings.Split(content, "</"+ns+":p>") {
		if text := extractXMLText(part, "<"+ns+":t"); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// extractXMLText concatenates the contents of every tag occurrence,
// tolerating attributes and self-closing tags. Text runs are split
// mid-word by the editors that produce these files, so no separator goes
// between them.
func extractXMLText(chunk, tag string) string {
	closing := "</" + tag[1:] + ">"

	var b strings.Builder
	rest := chunk
	for {
		i := strings.Index(rest, tag)
		if i < 0 {
			break
		}
		rest = rest[i+len(tag):]
		if rest == "" {
			break
		}
		// reject longer tag names sharing the prefix, like <w:tab>
		if rest[0] != '>' && rest[0] != ' ' && rest[0] != '/' {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		if gt > 0 && rest[gt-1] == '/' {
			rest = rest[gt+1:]
			continue
		}
		rest = rest[gt+1:]

		end := strings.Index(rest, closing)
		if end < 0 {
			break
		}
		b.WriteString(xmlUnescaper.Replace(rest[:end]))
		rest = rest[end+len(closing):]
	}
	return b.String()
}
