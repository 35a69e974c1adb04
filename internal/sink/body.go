package sink

import (
	"bufio"
	"io"

	"github.com/spf13/afero"

	"github.com/ovh/beamium/internal/queue"
)

// chunkSize is how many bytes fill buffers (whole lines, so it may run
// over by one line) before handing them to Body.Read, matching the
// original implementation's notion of a send chunk (spec §4.7).
const chunkSize = 1024 * 1024

// Body streams one HTTP request payload by pulling spool file paths from
// a queue on demand, one file at a time, until a batch boundary is hit.
// It implements io.Reader so it can be handed directly to
// http.NewRequest as a chunked-transfer body.
type Body struct {
	fs afero.Fs
	q  *queue.Queue

	batchCount int
	batchSize  int64

	consumed  []string
	bytesSent int64
	filesSent int
	lines     int

	curFile   afero.File
	curReader *bufio.Reader

	pending []byte
	done    bool
}

// NewBody constructs a body bound to q. batchCount/batchSize are the
// end-of-body conditions from spec §4.7 (a zero batchSize means
// unbounded).
func NewBody(fs afero.Fs, q *queue.Queue, batchCount int, batchSize int64) *Body {
	return &Body{fs: fs, q: q, batchCount: batchCount, batchSize: batchSize}
}

// Consumed returns every spool path this body has popped from the
// queue, in the order they were popped.
func (b *Body) Consumed() []string { return b.consumed }

// Lines reports how many non-blank lines were written into the body.
func (b *Body) Lines() int { return b.lines }

func (b *Body) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(b.pending) > 0 {
			c := copy(p[n:], b.pending)
			n += c
			b.pending = b.pending[c:]
			continue
		}
		if b.done {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		if err := b.fill(); err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
	}
	return n, nil
}

// fill advances internal state until there is something new in
// b.pending, or the body is finished (b.done).
func (b *Body) fill() error {
	for {
		if b.curReader == nil {
			if b.atBatchLimit() {
				b.done = true
				return nil
			}
			path, ok := b.q.PopBack()
			if !ok {
				b.done = true
				return nil
			}
			b.consumed = append(b.consumed, path)

			f, err := b.fs.Open(path)
			if err != nil {
				// File vanished (e.g. raced a TTL/size sweep); it stays in
				// consumed (so it isn't silently lost from bookkeeping), just
				// contributes nothing to the body.
				continue
			}
			b.curFile = f
			b.curReader = bufio.NewReader(f)
			continue
		}

		line, err := b.curReader.ReadString('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				line += "\n"
			}
			if len(line) > 1 {
				b.pending = append(b.pending, []byte(line)...)
				b.bytesSent += int64(len(line))
				b.lines++
			}
		}

		if err != nil {
			b.curFile.Close()
			b.curFile = nil
			b.curReader = nil
			b.filesSent++
			if len(b.pending) > chunkSize {
				return nil
			}
			continue
		}
		if len(b.pending) >= chunkSize {
			return nil
		}
	}
}

func (b *Body) atBatchLimit() bool {
	if b.filesSent >= b.batchCount {
		return true
	}
	if b.batchSize > 0 && b.bytesSent >= b.batchSize {
		return true
	}
	return false
}
