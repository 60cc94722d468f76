package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// FileSink writes status events to a file given by --status-out.
type FileSink struct {
	path    string
	format  string
	file    *os.File
	mu      sync.Mutex
	records records
}

func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("output path required")
	}

	// Infer format if not provided
	if format == "" {
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".json":
			format = "json"
		case ".ndjson", ".jsonl":
			format = "ndjson"
		default:
			return nil, errors.Newf("cannot infer output format from file extension %q", ext)
		}
	}

	if format != "json" && format != "ndjson" {
		return nil, errors.Newf("unsupported output format: %s", format)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create output directory")
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output file")
	}

	return &FileSink{path: path, format: format, file: f}, nil
}

func (s *FileSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		s.records.add(v)
	case "ndjson":
		if e, ok := v.(Event); ok {
			return json.NewEncoder(s.file).Encode(e)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.format == "json" {
		err = s.records.encodeTo(json.NewEncoder(s.file))
	}
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
