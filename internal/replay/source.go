package replay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
)

// maxLineBytes bounds a single recorded line; page records carry the element list.
const maxLineBytes = 4 << 20

// Source yields records in stream order. Next returns io.EOF at the end of
// the stream.
type Source interface {
	Next(ctx context.Context) (Record, error)
}

// readerSource reads a finished recording.
type readerSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewReaderSource reads JSON Lines from r. Blank lines are skipped.
func NewReaderSource(r io.Reader) Source {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &readerSource{scanner: s}
}

func (s *readerSource) Next(ctx context.Context) (Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Record{}, fmt.Errorf("replay: read line %d: %w", s.line+1, err)
			}
			return Record{}, io.EOF
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := DecodeRecord(line)
		if err != nil {
			return Record{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return rec, nil
	}
}

// TailSource follows a recording that is still being written.
type TailSource struct {
	t    *tail.Tail
	line int
}

// NewTailSource follows path from its beginning. The stream only ends when
// the context passed to Next is cancelled or Close is called.
func NewTailSource(path string) (*TailSource, error) {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("replay: failed to follow %s: %w", path, err)
	}
	return &TailSource{t: t}, nil
}

func (s *TailSource) Next(ctx context.Context) (Record, error) {
	for {
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case line, ok := <-s.t.Lines:
			if !ok {
				return Record{}, io.EOF
			}
			if line.Err != nil {
				return Record{}, fmt.Errorf("replay: tail: %w", line.Err)
			}
			s.line++
			text := bytes.TrimSpace([]byte(line.Text))
			if len(text) == 0 {
				continue
			}
			rec, err := DecodeRecord(text)
			if err != nil {
				return Record{}, fmt.Errorf("line %d: %w", s.line, err)
			}
			return rec, nil
		}
	}
}

// Close stops following the file.
func (s *TailSource) Close() error {
	err := s.t.Stop()
	s.t.Cleanup()
	return err
}
