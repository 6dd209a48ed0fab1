package squashfs

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ParallelFileReader wraps a file inode's data blocks, decoding up to
// readAhead blocks concurrently ahead of the caller's read position. It
// implements io.Reader and io.ReaderAt. Grounded on spec.md §4.7's
// "parallel prefetching" read path — the teacher's package had only the
// sequential Inode.ReadAt; this is new, built with the same
// golang.org/x/sync/errgroup dependency other repos in the retrieval pack
// lean on for bounded fan-out.
type ParallelFileReader struct {
	rd        *Reader
	ino       *Inode
	readAhead int

	mu     sync.Mutex
	cache  map[int][]byte
	cond   *sync.Cond
	fail   error
	fetch  map[int]bool
	cursor int64
}

// NewParallelFileReader builds a prefetching reader over ino, which must be
// a file inode. depth is how many blocks beyond the current one are kept
// warm in the background; depth <= 0 behaves like a depth of 1 (the current
// block only, no real look-ahead).
func NewParallelFileReader(rd *Reader, ino *Inode, depth int) *ParallelFileReader {
	if depth <= 0 {
		depth = 1
	}
	p := &ParallelFileReader{
		rd:        rd,
		ino:       ino,
		readAhead: depth,
		cache:     make(map[int][]byte),
		fetch:     make(map[int]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *ParallelFileReader) blockCount() int { return len(p.ino.Blocks) }

// ensure launches background fetches for blocks [from, from+readAhead) that
// aren't already cached or in flight.
func (p *ParallelFileReader) ensure(ctx context.Context, from int) {
	p.mu.Lock()
	var toFetch []int
	for b := from; b < from+p.readAhead && b < p.blockCount(); b++ {
		if _, done := p.cache[b]; done {
			continue
		}
		if p.fetch[b] {
			continue
		}
		p.fetch[b] = true
		toFetch = append(toFetch, b)
	}
	p.mu.Unlock()
	if len(toFetch) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	for _, b := range toFetch {
		b := b
		g.Go(func() error {
			data, err := p.rd.readDataBlock(p.ino, b)
			p.mu.Lock()
			if err != nil {
				if p.fail == nil {
					p.fail = err
				}
			} else {
				p.cache[b] = data
			}
			delete(p.fetch, b)
			p.cond.Broadcast()
			p.mu.Unlock()
			return nil
		})
	}
	// Intentionally not waiting here: ensure kicks off background work and
	// returns immediately. Errors surface to the caller when it reads the
	// affected block via waitFor.
	_ = g
}

func (p *ParallelFileReader) waitFor(ctx context.Context, b int) ([]byte, error) {
	p.ensure(ctx, b)
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if data, ok := p.cache[b]; ok {
			return data, nil
		}
		if p.fail != nil {
			return nil, p.fail
		}
		p.cond.Wait()
	}
}

// ReadAt serves a read against the image, prefetching readAhead blocks
// beyond whichever block this read starts in.
func (p *ParallelFileReader) ReadAt(out []byte, off int64) (int, error) {
	if uint64(off) >= p.ino.Size {
		return 0, io.EOF
	}
	if uint64(off)+uint64(len(out)) > p.ino.Size {
		out = out[:p.ino.Size-uint64(off)]
	}

	blockSize := int64(p.rd.SB.BlockSize)
	block := int(off / blockSize)
	offset := int(off % blockSize)
	n := 0
	ctx := context.Background()

	for len(out) > 0 {
		buf, err := p.waitFor(ctx, block)
		if err != nil {
			return n, err
		}
		if offset > 0 {
			if offset >= len(buf) {
				buf = nil
			} else {
				buf = buf[offset:]
			}
		}
		l := copy(out, buf)
		n += l
		out = out[l:]
		block++
		offset = 0
	}
	return n, nil
}

// Read implements io.Reader, advancing an internal cursor across successive
// calls.
func (p *ParallelFileReader) Read(out []byte) (int, error) {
	n, err := p.ReadAt(out, p.cursor)
	p.cursor += int64(n)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// OpenParallel returns a ParallelFileReader for a file inode, honoring the
// read-ahead depth configured via WithParallelReads on the Reader that
// produced ino.
func (i *Inode) OpenParallel() (*ParallelFileReader, error) {
	if i.Type.Basic() != FileType {
		return nil, ErrUnexpectedInode
	}
	depth := i.rd.readAhead
	if depth <= 0 {
		depth = 8
	}
	return NewParallelFileReader(i.rd, i, depth), nil
}
