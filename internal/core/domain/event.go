package domain

import (
	"fmt"
	"strconv"
	"time"
)

// EventKind names a pipeline event.
type EventKind string

const (
	EventFileUploaded           EventKind = "file.uploaded"
	EventMetadataExtracted      EventKind = "metadata.extracted"
	EventArchiveCompleted       EventKind = "archive.completed"
	EventVectorizationCompleted EventKind = "vectorization.completed"
	EventProcessingFailed       EventKind = "processing.failed"
)

var knownEventKinds = map[EventKind]struct{}{
	EventFileUploaded:           {},
	EventMetadataExtracted:      {},
	EventArchiveCompleted:       {},
	EventVectorizationCompleted: {},
	EventProcessingFailed:       {},
}

func (k EventKind) Valid() bool {
	_, ok := knownEventKinds[k]
	return ok
}

// EventKinds lists every kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventFileUploaded,
		EventMetadataExtracted,
		EventArchiveCompleted,
		EventVectorizationCompleted,
		EventProcessingFailed,
	}
}

// Event is a transient in-process notification.
type Event struct {
	Kind      EventKind         `json:"name"`
	Payload   map[string]string `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	payloadDocumentID = "document_id"
	payloadFilePath   = "file_path"
	payloadOwnerID    = "owner_id"
	payloadModel      = "model"
	payloadCategory   = "category"
	payloadChunks     = "chunks"
	payloadStage      = "stage"
	payloadError      = "error"
)

func newEvent(kind EventKind, payload map[string]string) Event {
	return Event{Kind: kind, Payload: payload, Timestamp: time.Now().UTC()}
}

func (e Event) documentID() (int64, error) {
	raw, ok := e.Payload[payloadDocumentID]
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %s event without %s", ErrInvalidInput, e.Kind, payloadDocumentID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s event has bad %s %q", ErrInvalidInput, e.Kind, payloadDocumentID, raw)
	}
	return id, nil
}

func (e Event) expect(kind EventKind) error {
	if e.Kind != kind {
		return fmt.Errorf("%w: expected %s event, got %s", ErrInvalidInput, kind, e.Kind)
	}
	return nil
}

type FileUploaded struct {
	DocumentID int64
	FilePath   string
	OwnerID    string
	Model      string
}

func NewFileUploaded(p FileUploaded) Event {
	return newEvent(EventFileUploaded, map[string]string{
		payloadDocumentID: strconv.FormatInt(p.DocumentID, 10),
		payloadFilePath:   p.FilePath,
		payloadOwnerID:    p.OwnerID,
		payloadModel:      p.Model,
	})
}

func (e Event) FileUploaded() (FileUploaded, error) {
	if err := e.expect(EventFileUploaded); err != nil {
		return FileUploaded{}, err
	}
	id, err := e.documentID()
	if err != nil {
		return FileUploaded{}, err
	}
	path := e.Payload[payloadFilePath]
	if path == "" {
		return FileUploaded{}, fmt.Errorf("%w: %s event without %s", ErrInvalidInput, e.Kind, payloadFilePath)
	}
	return FileUploaded{
		DocumentID: id,
		FilePath:   path,
		OwnerID:    e.Payload[payloadOwnerID],
		Model:      e.Payload[payloadModel],
	}, nil
}

type MetadataExtracted struct {
	DocumentID int64
	Category   string
}

func NewMetadataExtracted(p MetadataExtracted) Event {
	return newEvent(EventMetadataExtracted, map[string]string{
		payloadDocumentID: strconv.FormatInt(p.DocumentID, 10),
		payloadCategory:   p.Category,
	})
}

type ArchiveCompleted struct {
	DocumentID int64
}

func NewArchiveCompleted(p ArchiveCompleted) Event {
	return newEvent(EventArchiveCompleted, map[string]string{
		payloadDocumentID: strconv.FormatInt(p.DocumentID, 10),
	})
}

func (e Event) ArchiveCompleted() (ArchiveCompleted, error) {
	if err := e.expect(EventArchiveCompleted); err != nil {
		return ArchiveCompleted{}, err
	}
	id, err := e.documentID()
	if err != nil {
		return ArchiveCompleted{}, err
	}
	return ArchiveCompleted{DocumentID: id}, nil
}

type VectorizationCompleted struct {
	DocumentID int64
	Chunks     int
}

func NewVectorizationCompleted(p VectorizationCompleted) Event {
	return newEvent(EventVectorizationCompleted, map[string]string{
		payloadDocumentID: strconv.FormatInt(p.DocumentID, 10),
		payloadChunks:     strconv.Itoa(p.Chunks),
	})
}

type ProcessingFailed struct {
	DocumentID int64
	Stage      string
	Error      string
}

func NewProcessingFailed(p ProcessingFailed) Event {
	return newEvent(EventProcessingFailed, map[string]string{
		payloadDocumentID: strconv.FormatInt(p.DocumentID, 10),
		payloadStage:      p.Stage,
		payloadError:      p.Error,
	})
}

// DocumentID returns the document id carried by any pipeline event, or 0.
func (e Event) DocumentID() int64 {
	id, err := e.documentID()
	if err != nil {
		return 0
	}
	return id
}
