package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1 << 20

// TailOptions controls Tail.
type TailOptions struct {
	Lines  int
	Filter Filter
}

// TailResult holds the matching lines and the byte offset to follow from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail returns the last opts.Lines matching lines of the file at path. A
// missing file yields an empty result.
func Tail(path string, opts TailOptions) (TailResult, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	limit := opts.Lines
	if limit <= 0 {
		limit = 50
	}
	ring := make([]string, 0, limit)
	offset, err := scan(file, func(line string) {
		if !opts.Filter.Match(line) {
			return
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	})
	if err != nil {
		return TailResult{}, err
	}
	return TailResult{Lines: ring, Offset: offset}, nil
}

// Follow emits matching lines appended after offset, polling every interval
// until ctx is cancelled. A truncated file is read again from the start.
func Follow(ctx context.Context, path string, offset int64, filter Filter, interval time.Duration, emit func(string)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, offset, func(line string) {
			if filter.Match(line) {
				emit(line)
			}
		})
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	consumed, err := scan(file, fn)
	return offset + consumed, err
}

// scan calls fn for every complete line and returns the bytes consumed. A
// trailing partial line is left for the next read.
func scan(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		fn(line[:len(line)-1])
	}
}
