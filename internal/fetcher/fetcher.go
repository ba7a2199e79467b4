// Package fetcher downloads reference files and reads the tabular formats
// they come in: CSV, XLSX, JSON arrays and ZIP archives.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Table is a header row plus data rows read from a tabular file.
type Table struct {
	Header []string
	Rows   [][]string
}
