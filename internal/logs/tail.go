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

const (
	pollInterval   = 250 * time.Millisecond
	maxLineBytes   = 1024 * 1024
	initialBufSize = 64 * 1024
)

// Options controls a single Tail call.
type Options struct {
	// Offset is the byte position to resume from. A negative offset starts
	// with the last Limit lines of the file.
	Offset int64
	Limit  int
	// Follow waits up to Wait for new lines when none are available yet.
	Follow bool
	Wait   time.Duration
}

// Result holds the lines read and the offset to resume from.
type Result struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path according to opts. A missing file yields an
// empty result with a zero offset so callers can poll for it to appear.
func Tail(ctx context.Context, path string, opts Options) (Result, error) {
	result := Result{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		lines, offset, err := lastLines(path, opts.Limit)
		if err != nil {
			return result, err
		}
		result.Lines = lines
		result.Offset = offset
	} else {
		offset := opts.Offset
		// A shrunken file was truncated or replaced; start over from the top.
		if offset > info.Size() {
			offset = 0
		}
		lines, next, err := readFrom(path, offset)
		if err != nil {
			return result, err
		}
		result.Lines = lines
		result.Offset = next
	}

	if opts.Follow && opts.Wait > 0 && len(result.Lines) == 0 {
		return waitForLines(ctx, path, result.Offset, opts.Wait)
	}
	return result, nil
}

// Follow prints the last limit lines of path through emit and then keeps
// emitting appended lines until ctx is cancelled. Cancellation is not an
// error.
func Follow(ctx context.Context, path string, limit int, emit func(string)) error {
	res, err := Tail(ctx, path, Options{Offset: -1, Limit: limit})
	if err != nil {
		return err
	}
	for _, line := range res.Lines {
		emit(line)
	}
	offset := res.Offset
	for {
		res, err = Tail(ctx, path, Options{Offset: offset, Follow: true, Wait: 2 * time.Second})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		for _, line := range res.Lines {
			emit(line)
		}
		offset = res.Offset
		if ctx.Err() != nil {
			return nil
		}
	}
}

func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	var consumed int64
	err = scanLines(file, func(line string, n int) {
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
		consumed += int64(n)
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, count)
	if count == limit {
		for i := range lines {
			lines[i] = ring[(next+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, consumed, nil
}

func readFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	next := offset
	err = scanLines(file, func(line string, n int) {
		lines = append(lines, line)
		next += int64(n)
	})
	if err != nil {
		return nil, 0, err
	}
	return lines, next, nil
}

// scanLines calls fn for every complete line in r along with the number of
// bytes it occupied. A trailing line without a newline is left unread so a
// writer caught mid-line is picked up whole on the next call.
func scanLines(r io.Reader, fn func(line string, n int)) error {
	reader := bufio.NewReaderSize(r, initialBufSize)
	for {
		raw, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			long := append([]byte(nil), raw...)
			for errors.Is(err, bufio.ErrBufferFull) && len(long) < maxLineBytes {
				raw, err = reader.ReadSlice('\n')
				long = append(long, raw...)
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				return fmt.Errorf("read log file: line exceeds %d bytes", maxLineBytes)
			}
			raw = long
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read log file: %w", err)
		}
		n := len(raw)
		line := raw[:n-1]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		fn(string(line), n)
	}
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (Result, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := Result{Offset: offset}
	for {
		lines, next, err := readFrom(path, offset)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
		if time.Now().After(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
