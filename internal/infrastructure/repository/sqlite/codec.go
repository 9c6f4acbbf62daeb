package sqlite

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

const documentColumns = `d.id, d.owner_id, d.filename, d.original_filename, d.mime_type, d.file_type, d.storage_path,
	d.category, d.tags, d.summary, d.full_text, d.semantic_date, d.metadata, d.model_override,
	d.is_vectorized, d.status, d.error_message, d.processed_at, d.created_at, d.updated_at`

type documentRow struct {
	ID               int64          `db:"id"`
	OwnerID          string         `db:"owner_id"`
	Filename         string         `db:"filename"`
	OriginalFilename string         `db:"original_filename"`
	MimeType         string         `db:"mime_type"`
	FileType         string         `db:"file_type"`
	StoragePath      string         `db:"storage_path"`
	Category         string         `db:"category"`
	Tags             string         `db:"tags"`
	Summary          string         `db:"summary"`
	FullText         sql.NullString `db:"full_text"`
	SemanticDate     sql.NullString `db:"semantic_date"`
	Metadata         string         `db:"metadata"`
	ModelOverride    string         `db:"model_override"`
	IsVectorized     bool           `db:"is_vectorized"`
	Status           string         `db:"status"`
	ErrorMessage     string         `db:"error_message"`
	ProcessedAt      sql.NullString `db:"processed_at"`
	CreatedAt        string         `db:"created_at"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r documentRow) toDomain() (domain.Document, error) {
	doc := domain.Document{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Filename:         r.Filename,
		OriginalFilename: r.OriginalFilename,
		MimeType:         r.MimeType,
		FileType:         domain.FileType(r.FileType),
		StoragePath:      r.StoragePath,
		Category:         r.Category,
		Summary:          r.Summary,
		ModelOverride:    r.ModelOverride,
		IsVectorized:     r.IsVectorized,
		Status:           domain.DocumentStatus(r.Status),
		Error:            r.ErrorMessage,
	}
	if r.FullText.Valid {
		text := r.FullText.String
		doc.FullText = &text
	}
	if err := json.Unmarshal([]byte(r.Tags), &doc.Tags); err != nil {
		return doc, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &doc.Metadata); err != nil {
		return doc, fmt.Errorf("unmarshal metadata: %w", err)
	}

	var err error
	if doc.SemanticDate, err = parseNullTime(r.SemanticDate); err != nil {
		return doc, err
	}
	if doc.ProcessedAt, err = parseNullTime(r.ProcessedAt); err != nil {
		return doc, err
	}
	if doc.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return doc, err
	}
	if doc.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return doc, err
	}
	return doc, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return t, nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeJSON(v any, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}

// encodeVector stores float32 components little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// l2 is the Euclidean distance; both vectors have the store dimension.
func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
