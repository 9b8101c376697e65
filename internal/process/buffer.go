package process

import (
	"bytes"
	"sync"
)

const (
	// maxLineLen bounds how much of a single line is remembered for the
	// keep filter and LastLine.
	maxLineLen = 4096
	// maxKeptLines bounds the lines kept past the cap.
	maxKeptLines = 1000
)

// Buffer collects combined stdout and stderr. It keeps the first max bytes,
// counts everything written, and reports the kept text after every chunk.
// Lines selected by the keep filter are collected even after the cap.
type Buffer struct {
	mu         sync.Mutex
	buf        []byte
	max        int
	total      int64
	onProgress func(string)

	keep    func(line string) bool
	line    []byte // current incomplete line, at most maxLineLen bytes
	last    string // last complete non-empty line
	kept    []string
	dropped int
}

// NewBuffer creates a buffer that keeps at most max bytes; max <= 0 keeps
// everything.
func NewBuffer(max int, onProgress func(string)) *Buffer {
	return &Buffer{max: max, onProgress: onProgress}
}

// KeepLines makes the buffer collect every line for which keep returns true
// and that does not fit entirely in the kept text. It must be called before
// the first Write.
func (b *Buffer) KeepLines(keep func(line string) bool) {
	b.mu.Lock()
	b.keep = keep
	b.mu.Unlock()
}

// Write never fails and always reports len(p) so the copying goroutine keeps
// draining the pipe after the cap is reached.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	start := b.total
	b.total += int64(len(p))
	grew := false
	if remaining := b.max - len(b.buf); b.max <= 0 || remaining > 0 {
		chunk := p
		if b.max > 0 && len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		b.buf = append(b.buf, chunk...)
		grew = len(chunk) > 0
	}
	if b.max > 0 {
		b.scan(p, start)
	}
	var snapshot string
	if grew && b.onProgress != nil {
		snapshot = string(b.buf)
	}
	b.mu.Unlock()

	if grew && b.onProgress != nil {
		b.onProgress(snapshot)
	}
	return len(p), nil
}

// scan splits p into lines; pos is the stream offset of p[0].
func (b *Buffer) scan(p []byte, pos int64) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		seg := p
		if i >= 0 {
			seg = p[:i]
		}
		if room := maxLineLen - len(b.line); room > 0 {
			b.line = append(b.line, seg[:min(len(seg), room)]...)
		}
		if i < 0 {
			return
		}
		b.endLine(pos + int64(i))
		pos += int64(i) + 1
		p = p[i+1:]
	}
}

// endLine finishes the current line, whose newline sits at stream offset end.
func (b *Buffer) endLine(end int64) {
	line := string(bytes.TrimRight(b.line, "\r"))
	b.line = b.line[:0]
	if line != "" {
		b.last = line
	}
	if end > int64(len(b.buf)) {
		b.offer(line)
	}
}

func (b *Buffer) offer(line string) {
	if b.keep == nil || !b.keep(line) {
		return
	}
	if len(b.kept) >= maxKeptLines {
		b.dropped++
		return
	}
	b.kept = append(b.kept, line)
}

// String returns the kept output.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Total returns the number of bytes written, including discarded ones.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Truncated reports whether any output was discarded.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(len(b.buf))
}

// Kept returns the lines selected by the keep filter that were cut from the
// kept text, in order, and how many more were dropped past the line bound.
// A final line without a newline is included.
func (b *Buffer) Kept() ([]string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := append([]string(nil), b.kept...)
	dropped := b.dropped
	if len(b.line) > 0 && b.total > int64(len(b.buf)) && b.keep != nil {
		if line := string(bytes.TrimRight(b.line, "\r")); b.keep(line) {
			if len(kept) < maxKeptLines {
				kept = append(kept, line)
			} else {
				dropped++
			}
		}
	}
	return kept, dropped
}

// LastLine returns the last non-empty line written, or "" when the buffer is
// unlimited. Lines longer than maxLineLen are cut.
func (b *Buffer) LastLine() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if line := string(bytes.TrimRight(b.line, "\r")); line != "" {
		return line
	}
	return b.last
}
