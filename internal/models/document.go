package models

import "time"

// DocFormat tags how a document entered the corpus.
type DocFormat string

const (
	DocFormatWeb     DocFormat = "web"
	DocFormatPDFText DocFormat = "pdf-text"
	DocFormatPDFScan DocFormat = "pdf-scan"
)

// Document is a single acquired source, immutable once created.
type Document struct {
	Origin     string // URL or file path the text came from
	Format     DocFormat
	Text       string
	AcquiredAt time.Time
}

// Verdict classifies a PDF by extractability of its text layer.
type Verdict string

const (
	VerdictExtractable Verdict = "extractable"
	VerdictScanOnly    Verdict = "scan-only"
)

// ExtractionVerdict records the classification decision for one PDF.
// CharsPerPage is the confidence signal the threshold is applied to.
type ExtractionVerdict struct {
	Path         string
	Verdict      Verdict
	Pages        int
	Chars        int
	CharsPerPage int
}
