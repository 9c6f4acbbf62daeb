package html

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const contentSelector = "title,h1,h2,h3,h4,p,li,td,th,pre,blockquote"

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
	return ExtractReader(reader)
}

// ExtractReader returns the readable block text of an HTML page, one block per line.
func ExtractReader(r io.Reader) (string, error) {
	page, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	page.Find("script,style,noscript").Remove()

	var lines []string
	page.Find(contentSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(contentSelector).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(page.Text()), " "), nil
	}
	return strings.Join(lines, "\n"), nil
}
