package comm

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var errFakeRefused = errors.New("fake: connection refused")

// fakeDriver is both Driver and Endpoint. Its transports are backed by a
// pipe the test writes board output into.
type fakeDriver struct {
	lookupErr error
	failOpens int // opens that fail before the first success; -1 fails all
	openDelay time.Duration

	mu          sync.Mutex
	transports  []*fakeTransport
	opens       int
	inFlight    int
	maxInFlight int
}

func (d *fakeDriver) Kind() string { return "fake" }

func (d *fakeDriver) Lookup(string) (Endpoint, error) {
	if d.lookupErr != nil {
		return nil, d.lookupErr
	}
	return d, nil
}

func (d *fakeDriver) Address() string { return "fake:0" }

func (d *fakeDriver) NewTransport() (Transport, error) {
	pr, pw := io.Pipe()
	t := &fakeTransport{d: d, pr: pr, pw: pw}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDriver) maxConcurrentOpens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

// opened returns the transports whose Open succeeded, oldest first.
func (d *fakeDriver) opened() []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*fakeTransport
	for _, t := range d.transports {
		if t.isOpen() {
			out = append(out, t)
		}
	}
	return out
}

func (d *fakeDriver) all() []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTransport(nil), d.transports...)
}

type fakeTransport struct {
	d  *fakeDriver
	pr *io.PipeReader
	pw *io.PipeWriter

	mu       sync.Mutex
	open     bool
	closed   bool
	written  []string
	writeErr error
}

func (t *fakeTransport) Open() error {
	d := t.d
	d.mu.Lock()
	d.opens++
	n := d.opens
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	d.mu.Unlock()

	if d.openDelay > 0 {
		time.Sleep(d.openDelay)
	}

	d.mu.Lock()
	d.inFlight--
	d.mu.Unlock()

	if d.failOpens < 0 || n <= d.failOpens {
		return errFakeRefused
	}
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Read(p []byte) (int, error) { return t.pr.Read(p) }

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	t.written = append(t.written, string(p))
	return len(p), nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.pr.Close()
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && !t.closed
}

func (t *fakeTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

func (t *fakeTransport) failWrites(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

// send plays board output into the read side.
func (t *fakeTransport) send(s string) error {
	_, err := t.pw.Write([]byte(s))
	return err
}

// failRead makes the pending and every later Read fail with err.
func (t *fakeTransport) failRead(err error) { t.pw.CloseWithError(err) }

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(k EventKind) int {
	n := 0
	for _, got := range r.kinds() {
		if got == k {
			n++
		}
	}
	return n
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == EventMessage {
			out = append(out, e.Text)
		}
	}
	return out
}

type transition struct{ from, to State }

// transitions records state changes seen by a state observer.
type transitions struct {
	mu  sync.Mutex
	all []transition
}

func (tr *transitions) observe(from, to State) {
	tr.mu.Lock()
	tr.all = append(tr.all, transition{from, to})
	tr.mu.Unlock()
}

func (tr *transitions) list() []transition {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]transition(nil), tr.all...)
}

// lingeringDriver hands out transports whose Read ignores Close: a reader
// parked in Read stays there until the test feeds it, as on a stack that
// does not abort pending reads.
type lingeringDriver struct {
	gate chan struct{} // when set, every Write waits for it to close

	mu         sync.Mutex
	transports []*lingeringTransport
}

func (d *lingeringDriver) Kind() string { return "lingering" }

func (d *lingeringDriver) Lookup(string) (Endpoint, error) { return d, nil }

func (d *lingeringDriver) Address() string { return "lingering:0" }

func (d *lingeringDriver) NewTransport() (Transport, error) {
	t := &lingeringTransport{feed: make(chan string, 4), gate: d.gate}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *lingeringDriver) transport(i int) *lingeringTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

// release unblocks every parked reader.
func (d *lingeringDriver) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.transports {
		close(t.feed)
	}
}

type lingeringTransport struct {
	feed chan string
	gate chan struct{}

	closed         atomic.Bool
	writing        atomic.Bool
	closedMidWrite atomic.Bool
}

func (t *lingeringTransport) Open() error { return nil }

func (t *lingeringTransport) Read(p []byte) (int, error) {
	s, ok := <-t.feed
	if !ok {
		return 0, io.EOF
	}
	return copy(p, s), nil
}

func (t *lingeringTransport) Write(p []byte) (int, error) {
	if t.gate != nil {
		t.writing.Store(true)
		<-t.gate
	}
	if t.closed.Load() {
		t.closedMidWrite.Store(t.writing.Load())
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func (t *lingeringTransport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *lingeringTransport) IsConnected() bool { return !t.closed.Load() }
