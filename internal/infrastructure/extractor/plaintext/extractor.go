package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor reads text files. Non UTF-8 content is decoded from the charset
// declared in the MIME type, then GB18030, then the sniffed legacy encoding.
type Extractor struct {
	storage ports.FileStore
}

func NewExtractor(storage ports.FileStore) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	text, err := decode(raw, doc.MimeType)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", doc.Filename, err)
	}
	return strings.TrimSpace(text), nil
}

func decode(raw []byte, mimeType string) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	sniffed, _, certain := charset.DetermineEncoding(raw, mimeType)
	if certain {
		return decodeWith(sniffed, raw)
	}
	if text, err := decodeWith(simplifiedchinese.GB18030, raw); err == nil && !strings.ContainsRune(text, utf8.RuneError) {
		return text, nil
	}
	return decodeWith(sniffed, raw)
}

func decodeWith(enc encoding.Encoding, raw []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
