package builds

import "io"

// capWriter writes through to w until limit bytes have been written, then
// silently drops the rest. Keeps a runaway build from filling the data dir
// with log output.
type capWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func newCapWriter(w io.Writer, limit int64) *capWriter {
	return &capWriter{w: w, limit: limit}
}

func (c *capWriter) Write(p []byte) (int, error) {
	remaining := c.limit - c.written
	if remaining <= 0 {
		return len(p), nil
	}

	if int64(len(p)) > remaining {
		n, err := c.w.Write(p[:remaining])
		c.written += int64(n)
		if err != nil {
			return n, err
		}
		return len(p), nil
	}

	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}
