package netx

import (
	"io"
	"sync/atomic"
)

// ProgressReader counts bytes read and reports the running total.
type ProgressReader struct {
	r      io.Reader
	read   atomic.Int64
	report func(sent int64)
}

// NewProgressReader wraps r; report may be nil.
func NewProgressReader(r io.Reader, report func(sent int64)) *ProgressReader {
	return &ProgressReader{r: r, report: report}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		total := p.read.Add(int64(n))
		if p.report != nil {
			p.report(total)
		}
	}
	return n, err
}

// Sent is the number of bytes read so far.
func (p *ProgressReader) Sent() int64 {
	return p.read.Load()
}
