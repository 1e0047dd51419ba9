package parser

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// extractTXT reads a plain-text file. Valid UTF-8 passes through;
// anything else is decoded as Latin-1 so no upload is rejected for its
// encoding alone.
func extractTXT(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read text file: %w", err)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	return decodeLatin1(data), nil
}

func decodeLatin1(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}
