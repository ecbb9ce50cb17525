package routine

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxCollectorSize caps the collector buffer.
const MaxCollectorSize uint32 = 64 * 1024

// Collector lifecycle states
const (
	CollectorStopped uint32 = iota
	CollectorRunning
	CollectorStopping
)

// CollectorMetrics counts collected records. Fields are read atomically.
type CollectorMetrics struct {
	Processed   int64 // records moved into the buffer
	Overwritten int64 // records lost because the buffer was full
	Errors      int64
}

// Collector moves routine output from an Engine into an overlapped ring
// buffer, so a slow terminal drops old lines instead of stalling routines.
type Collector struct {
	src     <-chan OutputRecord
	buffer  mpmc.RichOverlappedRingBuffer[OutputRecord]
	stop    chan struct{}
	done    chan struct{}
	metrics CollectorMetrics
	state   uint32
}

// NewCollector creates a collector reading src.
func NewCollector(src <-chan OutputRecord, size uint32) (*Collector, error) {
	if src == nil {
		return nil, fmt.Errorf("output channel cannot be nil")
	}
	if size == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if size > MaxCollectorSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", size, MaxCollectorSize)
	}

	return &Collector{
		src:    src,
		buffer: mpmc.NewOverlappedRingBuffer[OutputRecord](size),
	}, nil
}

// Start launches the collecting goroutine.
func (c *Collector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, CollectorStopped, CollectorRunning) {
		return fmt.Errorf("collector is already running")
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer func() {
			close(c.done)
			atomic.StoreUint32(&c.state, CollectorStopped)
		}()

		for {
			select {
			case <-c.stop:
				c.drainSource()
				return
			case rec, ok := <-c.src:
				if !ok {
					return
				}
				if !c.enqueue(rec) {
					return
				}
			}
		}
	}()
	return nil
}

// drainSource picks up records that were already sent when Stop was called.
func (c *Collector) drainSource() {
	for {
		select {
		case rec, ok := <-c.src:
			if !ok || !c.enqueue(rec) {
				return
			}
		default:
			return
		}
	}
}

func (c *Collector) enqueue(rec OutputRecord) bool {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		atomic.AddInt64(&c.metrics.Errors, 1)
		return false
	}
	atomic.AddInt64(&c.metrics.Overwritten, int64(overwrites))
	atomic.AddInt64(&c.metrics.Processed, 1)
	return true
}

// Stop ends collection after moving pending source records into the buffer.
// Buffered records stay available to Drain.
func (c *Collector) Stop() {
	if atomic.CompareAndSwapUint32(&c.state, CollectorRunning, CollectorStopping) {
		close(c.stop)
	}
	if c.done != nil {
		<-c.done
	}
}

// Done is closed when the collecting goroutine exits, including when the
// source channel is closed.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Drain removes and returns every buffered record, oldest first.
func (c *Collector) Drain() []OutputRecord {
	var out []OutputRecord
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

// DrainPlainText returns the buffered stdout content, one record per line.
func (c *Collector) DrainPlainText() string {
	var b strings.Builder
	for _, rec := range c.Drain() {
		if rec.Source != "stdout" {
			continue
		}
		b.WriteString(rec.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// GetMetrics returns a snapshot of the counters.
func (c *Collector) GetMetrics() CollectorMetrics {
	return CollectorMetrics{
		Processed:   atomic.LoadInt64(&c.metrics.Processed),
		Overwritten: atomic.LoadInt64(&c.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&c.metrics.Errors),
	}
}
