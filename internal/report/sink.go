package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the record file.
const (
	sinkMaxSizeMB  = 100
	sinkMaxBackups = 5
	sinkMaxAgeDays = 28
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// OpenSink returns the record destination. An empty path or "-" is stdout,
// anything else is a size-rotated file.
func OpenSink(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    sinkMaxSizeMB,
		MaxBackups: sinkMaxBackups,
		MaxAge:     sinkMaxAgeDays,
		Compress:   true,
	}, nil
}
