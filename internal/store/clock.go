package store

import "sync/atomic"

// versionClock hands out strictly increasing row versions.
// It resumes from the highest version found in the file.
type versionClock struct {
	seq atomic.Int64
}

func newVersionClockAt(start int64) *versionClock {
	c := &versionClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next version.
func (c *versionClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last version handed out.
func (c *versionClock) Current() int64 {
	return c.seq.Load()
}
