package audio

import "sync"

// ContextState is the lifecycle state of an audio processing context.
type ContextState string

// Context states.
const (
	ContextRunning ContextState = "running"
	ContextClosed  ContextState = "closed"
)

// Context is an audio processing graph rooted at a single stream.
// It is safe for concurrent use.
type Context struct {
	mu        sync.Mutex
	stream    Stream
	state     ContextState
	analysers []*Analyser
}

// NewContext creates a running processing context for stream.
func NewContext(stream Stream) *Context {
	return &Context{stream: stream, state: ContextRunning}
}

// SampleRate returns the sample rate of the source stream.
func (c *Context) SampleRate() int {
	return c.stream.SampleRate()
}

// State reports whether the context is running or closed.
func (c *Context) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CreateAnalyser creates an analyser node fed by the context's stream.
func (c *Context) CreateAnalyser(fftSize int) (*Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ContextClosed {
		return nil, ErrContextClosed
	}

	a, err := newAnalyser(fftSize)
	if err != nil {
		return nil, err
	}
	a.disconnect = c.stream.Connect(a)
	c.analysers = append(c.analysers, a)
	return a, nil
}

// Close disconnects every node created by the context. Closing twice
// returns ErrContextClosed.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.state == ContextClosed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.state = ContextClosed
	nodes := c.analysers
	c.analysers = nil
	c.mu.Unlock()

	for _, a := range nodes {
		a.Close()
	}
	return nil
}
