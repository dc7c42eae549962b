package coordinator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// DiscardSinks drops every body.
func DiscardSinks(int) (io.WriteCloser, error) { return nopCloser{io.Discard}, nil }

// WriterSinks sends every body to w, which is never closed.
func WriterSinks(w io.Writer) SinkFactory {
	return func(int) (io.WriteCloser, error) { return nopCloser{w}, nil }
}

// DirSinks writes the seq-th body to dir/<seq>.download.
func DirSinks(dir string) (SinkFactory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}
	return func(seq int) (io.WriteCloser, error) {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.download", seq)))
		if err != nil {
			return nil, err
		}
		return f, nil
	}, nil
}
