package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusFailed     DocumentStatus = "FAILED"
)

// FileType is the archive directory a document is filed under.
type FileType string

const (
	FileTypeDocuments FileType = "Documents"
	FileTypeImages    FileType = "Images"
	FileTypeAudio     FileType = "Audio"
	FileTypeVideo     FileType = "Video"
	FileTypeOthers    FileType = "Others"
)

var fileTypeByExt = map[string]FileType{
	".pdf": FileTypeDocuments, ".txt": FileTypeDocuments, ".doc": FileTypeDocuments, ".docx": FileTypeDocuments,
	".md": FileTypeDocuments, ".csv": FileTypeDocuments, ".xlsx": FileTypeDocuments, ".html": FileTypeDocuments,
	".htm": FileTypeDocuments,
	".jpg": FileTypeImages, ".jpeg": FileTypeImages, ".png": FileTypeImages, ".heic": FileTypeImages,
	".gif": FileTypeImages, ".bmp": FileTypeImages, ".webp": FileTypeImages, ".svg": FileTypeImages,
	".mp3": FileTypeAudio, ".m4a": FileTypeAudio, ".wav": FileTypeAudio, ".flac": FileTypeAudio,
	".aac": FileTypeAudio, ".ogg": FileTypeAudio,
	".mp4": FileTypeVideo, ".mov": FileTypeVideo, ".avi": FileTypeVideo, ".mkv": FileTypeVideo,
	".wmv": FileTypeVideo, ".flv": FileTypeVideo, ".webm": FileTypeVideo,
}

// FileTypeOf classifies a filename by its extension.
func FileTypeOf(filename string) FileType {
	if ft, ok := fileTypeByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return ft
	}
	return FileTypeOthers
}

func (t FileType) Valid() bool {
	switch t {
	case FileTypeDocuments, FileTypeImages, FileTypeAudio, FileTypeVideo, FileTypeOthers:
		return true
	}
	return false
}

// Document is the parent record of the archive index.
type Document struct {
	ID               int64             `json:"id"`
	OwnerID          string            `json:"owner_id"`
	Filename         string            `json:"filename"`
	OriginalFilename string            `json:"original_filename"`
	MimeType         string            `json:"mime_type,omitempty"`
	FileType         FileType          `json:"file_type"`
	StoragePath      string            `json:"storage_path"`
	Category         string            `json:"category,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	FullText         *string           `json:"full_text,omitempty"`
	SemanticDate     *time.Time        `json:"semantic_date,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ModelOverride    string            `json:"model_override,omitempty"`
	Embedding        []float32         `json:"-"`
	IsVectorized     bool              `json:"is_vectorized"`
	Status           DocumentStatus    `json:"status"`
	Error            string            `json:"error,omitempty"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Text returns the extracted full text or an empty string.
func (d *Document) Text() string {
	if d == nil || d.FullText == nil {
		return ""
	}
	return *d.FullText
}

// ReferenceTime is the date used for temporal filtering: the semantic date
// when known, then the processing time, then the creation time.
func (d *Document) ReferenceTime() (time.Time, bool) {
	switch {
	case d.SemanticDate != nil && !d.SemanticDate.IsZero():
		return *d.SemanticDate, true
	case d.ProcessedAt != nil && !d.ProcessedAt.IsZero():
		return *d.ProcessedAt, true
	case !d.CreatedAt.IsZero():
		return d.CreatedAt, true
	}
	return time.Time{}, false
}

// ArchiveUpdate is the final state written by the archiver for a document.
type ArchiveUpdate struct {
	Filename     string
	StoragePath  string
	Category     string
	Tags         []string
	Summary      string
	FullText     *string
	SemanticDate *time.Time
	Metadata     map[string]string
	ProcessedAt  time.Time
}

// DocumentMeta describes a document for embedding purposes.
type DocumentMeta struct {
	Filename string
	FileType FileType
	Category string
	Tags     []string
	Summary  string
	IsImage  bool
}

func MetaOf(doc *Document) DocumentMeta {
	return DocumentMeta{
		Filename: doc.Filename,
		FileType: doc.FileType,
		Category: doc.Category,
		Tags:     doc.Tags,
		Summary:  doc.Summary,
		IsImage:  doc.FileType == FileTypeImages,
	}
}
