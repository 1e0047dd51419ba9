package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Kind identifies a supported document format, derived from the
// filename suffix.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindTXT  Kind = "txt"
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
)

// ErrUnsupportedFormat rejects any suffix outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Detect maps a filename to its format kind. Legacy .xls routes to the
// xlsx reader; non-OOXML workbooks then fail at read time.
func Detect(filename string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return KindPDF, nil
	case ".docx":
		return KindDOCX, nil
	case ".txt":
		return KindTXT, nil
	case ".csv":
		return KindCSV, nil
	case ".xls", ".xlsx":
		return KindXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// IsSupported checks whether a filename has a supported suffix.
func IsSupported(filename string) bool {
	_, err := Detect(filename)
	return err == nil
}

// TextExtractor turns an uploaded document into plain text for the
// prompt compiler. Tabular formats are flattened into a readable text
// table, not kept structured.
type TextExtractor struct {
	PDFFallbackPdftotext bool
}

// ExtractText detects the format and extracts the document's text.
func (x *TextExtractor) ExtractText(r io.Reader, filename string) (string, error) {
	kind, err := Detect(filename)
	if err != nil {
		return "", err
	}

	switch kind {
	case KindPDF:
		return x.extractPDF(r)
	case KindDOCX:
		return extractDOCX(r)
	case KindTXT:
		return extractTXT(r)
	case KindCSV:
		return extractCSV(r)
	case KindXLSX:
		return extractXLSX(r)
	}
	return "", ErrUnsupportedFormat
}
