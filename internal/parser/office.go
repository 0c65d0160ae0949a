package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

func extractPDF(_ context.Context, data []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("malformed pdf", goerr.V("panic", fmt.Sprint(r)))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open pdf")
	}

	var pages []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read pdf page", goerr.V("page", i))
		}
		if strings.TrimSpace(pageText) != "" {
			pages = append(pages, strings.TrimSpace(pageText))
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

var (
	docxFieldRe = regexp.MustCompile(`(?s)<w:instrText[^>]*>.*?</w:instrText>`)
	docxBreakRe = regexp.MustCompile(`<w:(?:br|cr)\b[^>]*/>`)
	docxTabRe   = regexp.MustCompile(`<w:tab\b[^>]*/>`)
	pptxBreakRe = regexp.MustCompile(`<a:br\b[^>]*/>`)
	xmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func extractDOCX(_ context.Context, data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open docx")
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = docxFieldRe.ReplaceAllString(content, "")
	content = docxBreakRe.ReplaceAllString(content, "\n")
	content = docxTabRe.ReplaceAllString(content, "\t")
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	return xmlToText(content), nil
}

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func extractPPTX(_ context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open pptx")
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var parts []string
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", goerr.Wrap(err, "failed to open slide", goerr.V("slide", s.num))
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", goerr.Wrap(err, "failed to read slide", goerr.V("slide", s.num))
		}
		content := pptxBreakRe.ReplaceAllString(string(raw), "\n")
		content = strings.ReplaceAll(content, "</a:p>", "\n")
		if text := xmlToText(content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractXLSX(_ context.Context, data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open xlsx")
	}

	var sheets []string
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		if text := sheetText(sheet.Name, rows); text != "" {
			sheets = append(sheets, text)
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}

// extractWorkbook reads macro-enabled and template workbooks through excelize.
func extractWorkbook(_ context.Context, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open workbook")
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read sheet", goerr.V("sheet", name))
		}
		if text := sheetText(name, rows); text != "" {
			sheets = append(sheets, text)
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}

func sheetText(name string, rows [][]string) string {
	var body strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("## Sheet: %s\n%s", name, strings.TrimRight(body.String(), "\n"))
}

// xmlToText drops markup and decodes entities. Structural breaks must already
// have been turned into newlines.
func xmlToText(content string) string {
	text := html.UnescapeString(xmlTagRe.ReplaceAllString(content, ""))
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimRight(l, " \t"); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
