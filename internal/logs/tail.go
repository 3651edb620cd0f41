package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const defaultPoll = 250 * time.Millisecond

// Options controls Tail.
type Options struct {
	// Lines is how many trailing lines to print first. Zero prints none.
	Lines int
	// Follow keeps printing appended lines until the context ends.
	Follow bool
	Poll   time.Duration
	// Match keeps only lines containing this substring, such as a task id.
	Match string
}

// Tail writes the last opts.Lines matching lines of path to w and, in follow
// mode, every matching line appended afterwards. A missing file is treated as
// empty so following can start before the daemon writes anything.
func Tail(ctx context.Context, path string, w io.Writer, opts Options) error {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}

	lines, offset, err := lastLines(path, opts.Lines, opts.Match)
	if err != nil {
		return err
	}
	if err := writeLines(w, lines); err != nil {
		return err
	}
	if !opts.Follow {
		return nil
	}

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		lines, offset, err = readFrom(path, offset, opts.Match)
		if err != nil {
			return err
		}
		if err := writeLines(w, lines); err != nil {
			return err
		}
	}
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func openLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

// lastLines returns up to limit matching lines from the end of the file and
// the offset just past them.
func lastLines(path string, limit int, match string) ([]string, int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
	}
	scanner := newScanner(file)
	for scanner.Scan() {
		if limit <= 0 {
			continue
		}
		line := scanner.Text()
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return ring, offset, nil
}

// readFrom returns complete matching lines written after offset. A file
// shorter than offset was truncated and is read from the start.
func readFrom(path string, offset int64, match string) ([]string, int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	var lines []string
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			// A partial trailing line is picked up on the next poll.
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(chunk))
		line := strings.TrimRight(chunk, "\r\n")
		if match == "" || strings.Contains(line, match) {
			lines = append(lines, line)
		}
	}
	return lines, offset, nil
}
