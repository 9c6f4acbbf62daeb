package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

// inboxDir is the staging area uploads wait in until the archiver files them.
const inboxDir = "_inbox"

type IngestUseCase struct {
	repo         ports.DocumentRepository
	files        ports.FileStore
	publisher    ports.EventPublisher
	defaultOwner string
	logger       *slog.Logger
	now          func() time.Time
}

func NewIngestUseCase(
	repo ports.DocumentRepository,
	files ports.FileStore,
	publisher ports.EventPublisher,
	defaultOwner string,
	logger *slog.Logger,
) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		repo:         repo,
		files:        files,
		publisher:    publisher,
		defaultOwner: defaultOwner,
		logger:       logger,
		now:          time.Now,
	}
}

func (uc *IngestUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Document, error) {
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("filename is required"))
	}
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("file body is required"))
	}
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		owner = uc.defaultOwner
	}

	storageKey := path.Join(inboxDir, fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename)))
	if err := uc.files.Save(ctx, storageKey, req.Body); err != nil {
		return nil, fmt.Errorf("save to inbox: %w", err)
	}

	now := uc.now().UTC()
	doc := &domain.Document{
		OwnerID:          owner,
		Filename:         filename,
		OriginalFilename: filename,
		MimeType:         req.MimeType,
		FileType:         domain.FileTypeOf(filename),
		StoragePath:      storageKey,
		Tags:             []string{},
		Metadata:         map[string]string{metaOriginalFilename: filename},
		ModelOverride:    strings.TrimSpace(req.Model),
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	evt := domain.NewFileUploaded(domain.FileUploaded{
		DocumentID: doc.ID,
		FilePath:   storageKey,
		OwnerID:    owner,
		Model:      doc.ModelOverride,
	})
	if err := uc.publisher.Publish(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish upload event: %w", err)
	}
	uc.logger.Info("document uploaded", "document_id", doc.ID, "owner", owner, "filename", filename)
	return doc, nil
}

// Retry re-runs the archiver for a FAILED document from wherever its file currently is.
func (uc *IngestUseCase) Retry(ctx context.Context, id int64) error {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if doc.Status != domain.StatusFailed {
		return domain.WrapError(domain.ErrInvalidInput, "retry", fmt.Errorf("document %d is %s, only FAILED documents can be retried", id, doc.Status))
	}
	if err := uc.repo.UpdateStatus(ctx, id, domain.StatusPending, ""); err != nil {
		return fmt.Errorf("reset status: %w", err)
	}
	evt := domain.NewFileUploaded(domain.FileUploaded{
		DocumentID: id,
		FilePath:   doc.StoragePath,
		OwnerID:    doc.OwnerID,
		Model:      doc.ModelOverride,
	})
	if err := uc.publisher.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publish retry event: %w", err)
	}
	uc.logger.Info("document retry requested", "document_id", id)
	return nil
}

// Delete removes the document and its chunks, then the archived file.
func (uc *IngestUseCase) Delete(ctx context.Context, id int64) error {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch document: %w", err)
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if doc.StoragePath != "" {
		if err := uc.files.Remove(ctx, doc.StoragePath); err != nil {
			uc.logger.Warn("archived file not removed", "document_id", id, "path", doc.StoragePath, "error", err)
		}
	}
	return nil
}

func (uc *IngestUseCase) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	return uc.repo.GetByID(ctx, id)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
