package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const (
	metaOriginalFilename  = "original_filename"
	metaSuggestedFilename = "suggested_filename"
	metaFileSize          = "file_size"
	metaProcessedAt       = "processed_at"
	metaSemanticDate      = "semantic_date"
	metaMoney             = "money"
	metaAnalysisError     = "analysis_error"
	metaExtractionError   = "extraction_error"

	failedDir        = "_FAILED"
	defaultOwnerDir  = "user"
	fallbackCategory = "Unsorted"
	fallbackSummary  = 100
)

var (
	ownerUnsafe    = regexp.MustCompile(`[^\p{L}\p{N}_.-]+`)
	filenameUnsafe = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// ArchiverStage files an uploaded document: extract, analyze, rename, move, persist.
type ArchiverStage struct {
	repo      ports.DocumentRepository
	files     ports.FileStore
	extractor ports.TextExtractor
	analyzer  ports.Analyzer
	publisher ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewArchiverStage(
	repo ports.DocumentRepository,
	files ports.FileStore,
	extractor ports.TextExtractor,
	analyzer ports.Analyzer,
	publisher ports.EventPublisher,
	logger *slog.Logger,
) *ArchiverStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiverStage{
		repo:      repo,
		files:     files,
		extractor: extractor,
		analyzer:  analyzer,
		publisher: publisher,
		logger:    logger.With("stage", "archiver"),
		now:       time.Now,
	}
}

// HandleFileUploaded is the bus handler for file.uploaded.
func (s *ArchiverStage) HandleFileUploaded(ctx context.Context, evt domain.Event) error {
	payload, err := evt.FileUploaded()
	if err != nil {
		return err
	}
	return s.Archive(ctx, payload)
}

func (s *ArchiverStage) Archive(ctx context.Context, in domain.FileUploaded) error {
	if err := s.repo.UpdateStatus(ctx, in.DocumentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}
	doc, err := s.repo.GetByID(ctx, in.DocumentID)
	if err != nil {
		err = fmt.Errorf("fetch document: %w", err)
		s.fail(ctx, in.DocumentID, in.FilePath, err)
		return err
	}

	current := in.FilePath
	dst, err := s.archive(ctx, doc, in, &current)
	if err != nil {
		s.fail(ctx, doc.ID, current, err)
		return err
	}

	if err := s.publisher.Publish(ctx, domain.NewArchiveCompleted(domain.ArchiveCompleted{DocumentID: doc.ID})); err != nil {
		return fmt.Errorf("publish archive.completed: %w", err)
	}
	s.logger.Info("document archived", "document_id", doc.ID, "path", dst)
	return nil
}

// archive runs the fallible steps; current tracks where the file is so a failure can move it aside.
func (s *ArchiverStage) archive(ctx context.Context, doc *domain.Document, in domain.FileUploaded, current *string) (string, error) {
	original := doc.OriginalFilename
	if original == "" {
		original = doc.Filename
	}
	meta := make(map[string]string, 8)
	meta[metaOriginalFilename] = original

	doc.StoragePath = *current
	text, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		meta[metaExtractionError] = err.Error()
		text = ""
		s.logger.Warn("text extraction failed, continuing with filename only", "document_id", doc.ID, "error", err)
	}

	result := s.analyze(ctx, doc.ID, original, text, in.Model, meta)
	if err := s.publisher.Publish(ctx, domain.NewMetadataExtracted(domain.MetadataExtracted{DocumentID: doc.ID, Category: result.Category})); err != nil {
		s.logger.Warn("publish metadata.extracted failed", "document_id", doc.ID, "error", err)
	}

	name := archiveFilename(result.SuggestedFilename, original)
	meta[metaSuggestedFilename] = name

	now := s.now()
	period := now
	if result.Date != nil {
		period = *result.Date
		meta[metaSemanticDate] = result.Date.Format("2006-01-02")
	}
	dir := path.Join(ownerDirectory(in.OwnerID, doc.OwnerID), period.Format("2006.01"), string(doc.FileType))
	if err := s.files.MkdirAll(ctx, dir); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	name, err = s.files.Place(ctx, *current, dir, name)
	if err != nil {
		return "", fmt.Errorf("move file: %w", err)
	}
	dst := path.Join(dir, name)
	*current = dst

	if size, err := s.files.Size(ctx, dst); err == nil {
		meta[metaFileSize] = strconv.FormatInt(size, 10)
	}
	meta[metaProcessedAt] = now.UTC().Format(time.RFC3339)
	if result.Money != "" {
		meta[metaMoney] = result.Money
	}

	var fullText *string
	if text != "" {
		fullText = &text
	}
	upd := domain.ArchiveUpdate{
		Filename:     name,
		StoragePath:  dst,
		Category:     result.Category,
		Tags:         result.Tags,
		Summary:      result.Summary,
		FullText:     fullText,
		SemanticDate: result.Date,
		Metadata:     meta,
		ProcessedAt:  now.UTC(),
	}
	if err := s.repo.SaveArchive(ctx, doc.ID, upd); err != nil {
		return "", fmt.Errorf("save archive result: %w", err)
	}
	return dst, nil
}

// analyze never fails: analyzer errors and unparsed answers fall back to an Unsorted record.
func (s *ArchiverStage) analyze(ctx context.Context, id int64, filename, text, model string, meta map[string]string) domain.AnalysisResult {
	result, err := s.analyzer.Analyze(ctx, domain.AnalysisRequest{Filename: filename, Text: text, Model: model})
	switch {
	case err != nil:
		meta[metaAnalysisError] = err.Error()
		s.logger.Warn("analysis failed, archiving as unsorted", "document_id", id, "error", err)
		result = fallbackAnalysis(text)
	case !result.Parsed():
		meta[metaAnalysisError] = domain.WrapError(domain.ErrAnalysis, "analyze", errors.New("unparsed analyzer response")).Error()
		s.logger.Warn("analyzer response not parsed, archiving as unsorted", "document_id", id)
		result = fallbackAnalysis(text)
	}
	if strings.TrimSpace(result.Category) == "" {
		result.Category = fallbackCategory
	}
	return result
}

func fallbackAnalysis(text string) domain.AnalysisResult {
	return domain.AnalysisResult{
		Category: fallbackCategory,
		Summary:  strings.TrimSpace(truncateRunes(text, fallbackSummary)),
	}
}

// fail moves the file into the sibling _FAILED directory and records the error. No completion event follows.
func (s *ArchiverStage) fail(ctx context.Context, id int64, current string, cause error) {
	location := current
	if dir := path.Dir(current); path.Base(dir) != failedDir {
		if moved, err := s.moveAside(ctx, current, path.Join(dir, failedDir)); err != nil {
			s.logger.Error("move file to failed dir", "document_id", id, "error", err)
		} else {
			location = moved
		}
	}

	if err := s.repo.MarkFailed(ctx, id, location, cause.Error()); err != nil {
		s.logger.Error("mark document failed", "document_id", id, "error", err)
	}
	evt := domain.NewProcessingFailed(domain.ProcessingFailed{DocumentID: id, Stage: "archive", Error: cause.Error()})
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish processing.failed failed", "document_id", id, "error", err)
	}
	s.logger.Error("document archiving failed", "document_id", id, "path", location, "error", cause)
}

func (s *ArchiverStage) moveAside(ctx context.Context, current, dir string) (string, error) {
	if err := s.files.MkdirAll(ctx, dir); err != nil {
		return "", err
	}
	name, err := s.files.Place(ctx, current, dir, path.Base(current))
	if err != nil {
		return "", err
	}
	return path.Join(dir, name), nil
}

func ownerDirectory(candidates ...string) string {
	for _, owner := range candidates {
		owner = ownerUnsafe.ReplaceAllString(strings.TrimSpace(owner), "_")
		if owner != "" && owner != "_" && owner != "." && owner != ".." {
			return owner
		}
	}
	return defaultOwnerDir
}

// archiveFilename sanitizes the suggested name and keeps the original extension.
func archiveFilename(suggested, original string) string {
	name := filenameUnsafe.ReplaceAllString(strings.TrimSpace(suggested), "_")
	name = strings.Trim(name, " .")
	if name == "" {
		return strings.Trim(filenameUnsafe.ReplaceAllString(original, "_"), " ")
	}
	ext := path.Ext(original)
	if ext != "" && !strings.EqualFold(path.Ext(name), ext) {
		name += ext
	}
	return name
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
