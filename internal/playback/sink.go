package playback

import "sync"

// Sink receives the PCM payload of a playing clip. WritePCM hands over the
// whole clip up front; pacing is the sink's concern. Reset drops anything
// still queued, for an immediate cut when a clip is stopped or replaced.
type Sink interface {
	WritePCM(p []byte)
	Reset()
}

// Fanout broadcasts clip PCM to every attached sink. The zero set is valid:
// playback works with no listener connected.
type Fanout struct {
	mu    sync.Mutex
	next  int
	sinks map[int]Sink
}

func NewFanout() *Fanout {
	return &Fanout{sinks: make(map[int]Sink)}
}

// Attach registers a sink and returns its detach func.
func (f *Fanout) Attach(s Sink) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.sinks[id] = s
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.sinks, id)
		f.mu.Unlock()
	}
}

func (f *Fanout) WritePCM(p []byte) {
	for _, s := range f.current() {
		s.WritePCM(p)
	}
}

func (f *Fanout) Reset() {
	for _, s := range f.current() {
		s.Reset()
	}
}

func (f *Fanout) current() []Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		out = append(out, s)
	}
	return out
}
