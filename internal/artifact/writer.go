// Package artifact writes the resolved-identifier Parquet datasets
// (spec.md §4.G): one row per unique NPI or HCPCS code, composed from
// bulk sources, cached API responses, and not-found/error sentinels, with
// a shrinking "remaining" key set driving which source gets to fill each
// row. Every writer streams to a ".tmp" sibling of its final path and is
// renamed into place only once every row has a source, so a crashed or
// interrupted run never leaves a half-written artifact where a caller
// expects a finished one.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

const defaultFlushInterval = 10_000

// Writer streams rows of type T to a Parquet file, flushing in batches
// and only replacing outputPath with the finished file on Finish.
type Writer[T any] struct {
	outputPath string
	tmpPath    string
	file       *os.File
	writer     *parquet.GenericWriter[T]
	batchSize  int
	inBatch    int
	count      int
}

// NewWriter creates the ".tmp" file alongside outputPath and opens a
// Snappy-compressed Parquet writer over it.
func NewWriter[T any](outputPath string) (*Writer[T], error) {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact dir %s: %w", dir, err)
		}
	}
	tmpPath := outputPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	w := parquet.NewGenericWriter[T](file, parquet.Compression(&parquet.Snappy))
	return &Writer[T]{
		outputPath: outputPath,
		tmpPath:    tmpPath,
		file:       file,
		writer:     w,
		batchSize:  defaultFlushInterval,
	}, nil
}

// PushRow appends one row, flushing the underlying writer's internal
// batch periodically so memory use stays bounded on large exports.
func (w *Writer[T]) PushRow(row T) error {
	if _, err := w.writer.Write([]T{row}); err != nil {
		return fmt.Errorf("writing row to %s: %w", w.tmpPath, err)
	}
	w.count++
	w.inBatch++
	if w.inBatch >= w.batchSize {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("flushing %s: %w", w.tmpPath, err)
		}
		w.inBatch = 0
	}
	return nil
}

// Count returns the number of rows pushed so far.
func (w *Writer[T]) Count() int { return w.count }

// Finish flushes, closes the Parquet writer, and atomically renames the
// ".tmp" file over outputPath.
func (w *Writer[T]) Finish() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("closing %s: %w", w.tmpPath, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.outputPath); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", w.tmpPath, w.outputPath, err)
	}
	return nil
}

// Abort closes the writer without publishing it, and removes the
// partially written ".tmp" file rather than leaving it behind.
func (w *Writer[T]) Abort() error {
	w.writer.Close()
	w.file.Close()
	return os.Remove(w.tmpPath)
}
