package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
	"github.com/42012606/Memex-Neural/internal/infrastructure/storage/localfs"
)

type archiveFixture struct {
	store    ports.ArchiveStore
	files    *localfs.Storage
	pub      *recordingPublisher
	ingest   *IngestUseCase
	analyzer *analyzerFake
	stage    *ArchiverStage
}

func newArchiveFixture(t *testing.T, extractor ports.TextExtractor, files ports.FileStore) *archiveFixture {
	t.Helper()
	store := openStore(t)
	local := openFiles(t)
	if files == nil {
		files = local
	}
	pub := &recordingPublisher{}
	analyzer := &analyzerFake{}
	stage := NewArchiverStage(store, files, extractor, analyzer, pub, nil)
	stage.now = func() time.Time { return time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC) }
	return &archiveFixture{
		store:    store,
		files:    local,
		pub:      pub,
		ingest:   NewIngestUseCase(store, files, &recordingPublisher{}, "alice", nil),
		analyzer: analyzer,
		stage:    stage,
	}
}

func (f *archiveFixture) upload(t *testing.T, name, body string) (*domain.Document, domain.FileUploaded) {
	t.Helper()
	doc, err := f.ingest.Upload(context.Background(), ports.UploadRequest{Filename: name, Body: strings.NewReader(body)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return doc, domain.FileUploaded{DocumentID: doc.ID, FilePath: doc.StoragePath, OwnerID: doc.OwnerID}
}

func TestArchiveFilesDocumentBySemanticDate(t *testing.T) {
	ctx := context.Background()
	f := newArchiveFixture(t, &textExtractorFake{text: "quarterly tax invoice"}, nil)
	semantic := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)
	f.analyzer.result = domain.AnalysisResult{
		Shape:             domain.AnalysisNested,
		SuggestedFilename: "2023-11-15_Invoice",
		Category:          "Finance",
		Tags:              []string{"tax", "invoice"},
		Summary:           "tax invoice",
		Date:              &semantic,
		Money:             "500",
	}

	doc, in := f.upload(t, "scan.pdf", "raw bytes")
	if err := f.stage.Archive(ctx, in); err != nil {
		t.Fatalf("archive: %v", err)
	}

	got, err := f.store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.StoragePath != "alice/2023.11/Documents/2023-11-15_Invoice.pdf" {
		t.Fatalf("unexpected storage path %q", got.StoragePath)
	}
	if got.Filename != "2023-11-15_Invoice.pdf" || got.Category != "Finance" || got.Text() != "quarterly tax invoice" {
		t.Fatalf("unexpected archive record %+v", got)
	}
	if got.Metadata[metaOriginalFilename] != "scan.pdf" || got.Metadata[metaMoney] != "500" ||
		got.Metadata[metaSemanticDate] != "2023-11-15" || got.Metadata[metaFileSize] != "9" {
		t.Fatalf("unexpected metadata %v", got.Metadata)
	}
	if f.analyzer.last.Filename != "scan.pdf" || f.analyzer.last.Text != "quarterly tax invoice" {
		t.Fatalf("analyzer saw %+v", f.analyzer.last)
	}

	kinds := f.pub.kinds()
	if len(kinds) != 2 || kinds[0] != domain.EventMetadataExtracted || kinds[1] != domain.EventArchiveCompleted {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestArchiveResolvesNameCollision(t *testing.T) {
	ctx := context.Background()
	f := newArchiveFixture(t, &textExtractorFake{text: "body"}, nil)
	f.analyzer.result = domain.AnalysisResult{Shape: domain.AnalysisFlat, SuggestedFilename: "receipt", Category: "Finance"}

	first, in1 := f.upload(t, "a.txt", "one")
	second, in2 := f.upload(t, "b.txt", "two")
	if err := f.stage.Archive(ctx, in1); err != nil {
		t.Fatalf("archive first: %v", err)
	}
	if err := f.stage.Archive(ctx, in2); err != nil {
		t.Fatalf("archive second: %v", err)
	}

	a, _ := f.store.GetByID(ctx, first.ID)
	b, _ := f.store.GetByID(ctx, second.ID)
	if a.StoragePath == b.StoragePath {
		t.Fatalf("collision not resolved: both at %q", a.StoragePath)
	}
	if b.StoragePath != "alice/2024.05/Documents/receipt_1.txt" {
		t.Fatalf("unexpected second path %q", b.StoragePath)
	}
}

func TestArchiveFallsBackToUnsorted(t *testing.T) {
	cases := []struct {
		name   string
		result domain.AnalysisResult
		err    error
	}{
		{name: "analyzer error", err: domain.WrapError(domain.ErrAnalysis, "analyze", errBoom)},
		{name: "unparsed response", result: domain.AnalysisResult{Raw: "sorry, I cannot help"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newArchiveFixture(t, &textExtractorFake{text: strings.Repeat("x", 150)}, nil)
			f.analyzer.result, f.analyzer.err = tc.result, tc.err

			doc, in := f.upload(t, "note.txt", "x")
			if err := f.stage.Archive(ctx, in); err != nil {
				t.Fatalf("archive: %v", err)
			}
			got, _ := f.store.GetByID(ctx, doc.ID)
			if got.Status != domain.StatusCompleted || got.Category != fallbackCategory {
				t.Fatalf("expected completed unsorted record, got %s %q", got.Status, got.Category)
			}
			if len([]rune(got.Summary)) != fallbackSummary {
				t.Fatalf("expected %d-rune summary, got %d", fallbackSummary, len([]rune(got.Summary)))
			}
			if got.Metadata[metaAnalysisError] == "" {
				t.Fatal("expected analysis error in metadata")
			}
			if !f.pub.has(domain.EventArchiveCompleted) {
				t.Fatal("expected archive.completed")
			}
		})
	}
}

func TestArchiveContinuesWithoutText(t *testing.T) {
	ctx := context.Background()
	f := newArchiveFixture(t, &textExtractorFake{err: errors.New("encrypted pdf")}, nil)
	f.analyzer.result = domain.AnalysisResult{Shape: domain.AnalysisFlat, Category: "Work"}

	doc, in := f.upload(t, "locked.pdf", "x")
	if err := f.stage.Archive(ctx, in); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, _ := f.store.GetByID(ctx, doc.ID)
	if got.Status != domain.StatusCompleted || got.FullText != nil {
		t.Fatalf("expected completed record without text, got %+v", got)
	}
	if got.Metadata[metaExtractionError] != "encrypted pdf" {
		t.Fatalf("extraction error not recorded: %v", got.Metadata)
	}
}

// moveFailingStore refuses every placement except into a _FAILED directory.
type moveFailingStore struct {
	*localfs.Storage
}

func (s moveFailingStore) Place(ctx context.Context, from, dir, name string) (string, error) {
	if strings.HasSuffix(dir, "/"+failedDir) {
		return s.Storage.Place(ctx, from, dir, name)
	}
	return "", errBoom
}

func TestArchiveFailureMovesFileAside(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	files := openFiles(t)
	pub := &recordingPublisher{}
	ingest := NewIngestUseCase(store, files, &recordingPublisher{}, "alice", nil)
	analyzer := &analyzerFake{result: domain.AnalysisResult{Shape: domain.AnalysisFlat, Category: "Work"}}
	stage := NewArchiverStage(store, moveFailingStore{files}, &textExtractorFake{text: "body"}, analyzer, pub, nil)

	doc, err := ingest.Upload(ctx, ports.UploadRequest{Filename: "a.txt", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	err = stage.Archive(ctx, domain.FileUploaded{DocumentID: doc.ID, FilePath: doc.StoragePath, OwnerID: "alice"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected move error, got %v", err)
	}

	got, _ := store.GetByID(ctx, doc.ID)
	if got.Status != domain.StatusFailed || got.Error == "" {
		t.Fatalf("expected failed record, got %s %q", got.Status, got.Error)
	}
	if !strings.HasPrefix(got.StoragePath, inboxDir+"/"+failedDir+"/") {
		t.Fatalf("expected file under the failed dir, got %q", got.StoragePath)
	}
	if _, err := files.Size(ctx, got.StoragePath); err != nil {
		t.Fatalf("failed file missing: %v", err)
	}
	if pub.has(domain.EventArchiveCompleted) {
		t.Fatal("archive.completed must not follow a failure")
	}
	last := pub.events[len(pub.events)-1]
	if last.Kind != domain.EventProcessingFailed || last.Payload["stage"] != "archive" {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestArchiveFilenameKeepsExtension(t *testing.T) {
	cases := []struct{ suggested, original, want string }{
		{"Invoice", "scan.pdf", "Invoice.pdf"},
		{"Invoice.PDF", "scan.pdf", "Invoice.PDF"},
		{"a/b:c", "x.txt", "a_b_c.txt"},
		{"  ", "scan.pdf", "scan.pdf"},
	}
	for _, tc := range cases {
		if got := archiveFilename(tc.suggested, tc.original); got != tc.want {
			t.Fatalf("archiveFilename(%q, %q) = %q, want %q", tc.suggested, tc.original, got, tc.want)
		}
	}
}

func TestOwnerDirectory(t *testing.T) {
	if got := ownerDirectory("", "bob smith"); got != "bob_smith" {
		t.Fatalf("unexpected owner dir %q", got)
	}
	if got := ownerDirectory("..", ""); got != defaultOwnerDir {
		t.Fatalf("expected default owner dir, got %q", got)
	}
}

// unreadableStore loses the record between the status update and the read.
type unreadableStore struct {
	ports.ArchiveStore
}

func (unreadableStore) GetByID(context.Context, int64) (*domain.Document, error) {
	return nil, errBoom
}

func TestArchiveMarksFailedWhenRecordCannotBeRead(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	files := openFiles(t)
	pub := &recordingPublisher{}
	ingest := NewIngestUseCase(store, files, &recordingPublisher{}, "alice", nil)
	stage := NewArchiverStage(unreadableStore{store}, files, &textExtractorFake{text: "body"}, &analyzerFake{}, pub, nil)

	doc, err := ingest.Upload(ctx, ports.UploadRequest{Filename: "a.txt", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	err = stage.Archive(ctx, domain.FileUploaded{DocumentID: doc.ID, FilePath: doc.StoragePath, OwnerID: "alice"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected read error, got %v", err)
	}

	got, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed record, got %s", got.Status)
	}
	if !strings.Contains(got.StoragePath, "/"+failedDir+"/") {
		t.Fatalf("expected file under the failed dir, got %q", got.StoragePath)
	}
	if !pub.has(domain.EventProcessingFailed) {
		t.Fatal("expected processing.failed")
	}
}
