// Package export renders the gallery as a portfolio PDF via headless Chrome.
package export

import "errors"

// Piece is one artwork as it appears in the exported portfolio.
type Piece struct {
	Title  string
	Medium string
	URL    string
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNothingToExport indicates an empty gallery snapshot.
	ErrNothingToExport = errors.New("export: no artworks to export")
	// ErrPDFDependencyMissing indicates the headless Chrome runtime is unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
