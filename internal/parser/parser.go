package parser

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoText          = errors.New("no readable text found in file")
	ErrOCRUnavailable  = errors.New("image text recognition is not configured")
)

const (
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeXLSM     = "application/vnd.ms-excel.sheet.macroenabled.12"
	MimeXLTX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.template"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeCSV      = "text/csv"
	MimeHTML     = "text/html"
)

// OCR turns an image into text.
type OCR interface {
	Recognize(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Input is an uploaded file.
type Input struct {
	Filename string
	MimeType string
	Data     []byte
}

type extractFunc func(ctx context.Context, data []byte) (string, error)

var extractors = map[string]extractFunc{
	MimePDF:      extractPDF,
	MimeDOCX:     extractDOCX,
	MimePPTX:     extractPPTX,
	MimeXLSX:     extractXLSX,
	MimeXLSM:     extractWorkbook,
	MimeXLTX:     extractWorkbook,
	MimeText:     extractPlain,
	MimeCSV:      extractPlain,
	MimeMarkdown: extractMarkdown,
	MimeHTML:     extractHTML,
}

// Supported reports whether mimeType has an extractor. Images count as
// supported; whether they can be read depends on the OCR passed to Extract.
func Supported(mimeType string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	_, ok := extractors[strings.ToLower(mimeType)]
	return ok
}

// Extract converts the file into trimmed plain text. It never returns an empty
// string without an error: ErrUnsupportedType when nothing handles the type,
// ErrNoText when extraction worked but found nothing.
func Extract(ctx context.Context, in Input, ocr OCR) (string, error) {
	mimeType := DetectMIME(in.Filename, in.MimeType, in.Data)
	log.Debug().Str("filename", in.Filename).Str("mime", mimeType).Int("size", len(in.Data)).Msg("Extracting text")

	var (
		text string
		err  error
	)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		if ocr == nil {
			return "", goerr.Wrap(ErrOCRUnavailable, "cannot read image", goerr.V("filename", in.Filename))
		}
		text, err = ocr.Recognize(ctx, in.Data, mimeType)
	default:
		fn, ok := extractors[mimeType]
		if !ok {
			return "", goerr.Wrap(ErrUnsupportedType, "no extractor for file",
				goerr.V("filename", in.Filename), goerr.V("mime", mimeType))
		}
		text, err = fn(ctx, in.Data)
	}
	if err != nil {
		return "", goerr.Wrap(err, "failed to extract text",
			goerr.V("filename", in.Filename), goerr.V("mime", mimeType))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", goerr.Wrap(ErrNoText, "extraction returned nothing",
			goerr.V("filename", in.Filename), goerr.V("mime", mimeType))
	}
	return text, nil
}

// extensions whose MIME type is not reliably known by the platform mime table
var extensionTypes = map[string]string{
	".pdf":      MimePDF,
	".docx":     MimeDOCX,
	".pptx":     MimePPTX,
	".xlsx":     MimeXLSX,
	".xlsm":     MimeXLSM,
	".xltx":     MimeXLTX,
	".txt":      MimeText,
	".text":     MimeText,
	".log":      MimeText,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".csv":      MimeCSV,
	".html":     MimeHTML,
	".htm":      MimeHTML,
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".gif":      "image/gif",
	".webp":     "image/webp",
	".bmp":      "image/bmp",
	".tif":      "image/tiff",
	".tiff":     "image/tiff",
}

// DetectMIME resolves the media type of an upload: the declared type when it
// is specific, otherwise the filename extension, otherwise content sniffing.
// Parameters such as charset are dropped.
func DetectMIME(filename, declared string, data []byte) string {
	if mt := baseType(declared); mt != "" && mt != "application/octet-stream" {
		return canonical(mt)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if mt := baseType(mime.TypeByExtension(ext)); mt != "" {
		return canonical(mt)
	}
	if len(data) > 0 {
		return canonical(baseType(http.DetectContentType(data)))
	}
	return "application/octet-stream"
}

func baseType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}

// canonical folds aliases seen in the wild onto one lowercase name.
func canonical(mt string) string {
	mt = strings.ToLower(mt)
	switch mt {
	case "text/x-markdown":
		return MimeMarkdown
	case "application/xhtml+xml":
		return MimeHTML
	case "image/jpg":
		return "image/jpeg"
	}
	return mt
}
