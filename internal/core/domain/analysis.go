package domain

import "time"

// AnalysisShape discriminates the payload layouts an analyzer may return.
type AnalysisShape int

const (
	// AnalysisUnparsed means the response could not be decoded; only Raw is set.
	AnalysisUnparsed AnalysisShape = iota
	// AnalysisNested is {suggested_filename, semantic:{...}, structured:{...}}.
	AnalysisNested
	// AnalysisFlat is {suggested_filename, category, tags, summary, date, money}.
	AnalysisFlat
)

func (s AnalysisShape) String() string {
	switch s {
	case AnalysisNested:
		return "nested"
	case AnalysisFlat:
		return "flat"
	default:
		return "unparsed"
	}
}

// AnalysisRequest is the input to the analysis capability.
type AnalysisRequest struct {
	Filename string
	Text     string
	Model    string
}

// AnalysisResult is the validated output of the analysis capability.
type AnalysisResult struct {
	Shape             AnalysisShape
	SuggestedFilename string
	Category          string
	Tags              []string
	Summary           string
	Date              *time.Time
	Money             string
	Raw               string
}

func (r AnalysisResult) Parsed() bool {
	return r.Shape != AnalysisUnparsed
}
