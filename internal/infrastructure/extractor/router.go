// Package extractor routes documents to the text extraction capability for their type.
package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

// MaxTextRunes caps the text kept from a single document.
const MaxTextRunes = 50000

type Router struct {
	storage     ports.FileStore
	byExt       map[string]ports.TextExtractor
	fallback    ports.TextExtractor
	describer   ports.ImageDescriber
	transcriber ports.Transcriber
}

type Option func(*Router)

// WithExtension routes documents with ext (".pdf") to e.
func WithExtension(e ports.TextExtractor, exts ...string) Option {
	return func(r *Router) {
		for _, ext := range exts {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
}

// WithFallback handles documents with no extension-specific extractor.
func WithFallback(e ports.TextExtractor) Option {
	return func(r *Router) { r.fallback = e }
}

func WithImageDescriber(d ports.ImageDescriber) Option {
	return func(r *Router) { r.describer = d }
}

func WithTranscriber(t ports.Transcriber) Option {
	return func(r *Router) { r.transcriber = t }
}

func NewRouter(storage ports.FileStore, opts ...Option) *Router {
	r := &Router{storage: storage, byExt: make(map[string]ports.TextExtractor)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract returns "" with a nil error when no capability covers the document type.
func (r *Router) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	var (
		text string
		err  error
	)
	switch doc.FileType {
	case domain.FileTypeImages:
		text, err = r.media(ctx, doc, func(name string, f io.Reader) (string, error) {
			if r.describer == nil {
				return "", nil
			}
			return r.describer.DescribeImage(ctx, name, f)
		})
	case domain.FileTypeAudio:
		text, err = r.media(ctx, doc, func(name string, f io.Reader) (string, error) {
			if r.transcriber == nil {
				return "", nil
			}
			return r.transcriber.Transcribe(ctx, name, f)
		})
	case domain.FileTypeDocuments:
		ext := strings.ToLower(filepath.Ext(doc.StoragePath))
		e, ok := r.byExt[ext]
		if !ok {
			e = r.fallback
		}
		if e == nil {
			return "", nil
		}
		text, err = e.Extract(ctx, doc)
	default:
		return "", nil
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "extract "+doc.Filename, err)
	}
	return truncateRunes(strings.TrimSpace(text), MaxTextRunes), nil
}

func (r *Router) media(ctx context.Context, doc *domain.Document, fn func(string, io.Reader) (string, error)) (string, error) {
	f, err := r.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer f.Close()
	return fn(doc.Filename, f)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
