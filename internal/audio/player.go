package audio

import (
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time for the player so scheduling can be tested
// deterministically
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return systemClock{} }

// Node is one scheduled playback unit on an output device
type Node interface {
	// Stop halts playback of this node immediately
	Stop()
	// Done is closed when the node finishes or is stopped
	Done() <-chan struct{}
}

// Device is the audio output a Player schedules fragments onto.
// Implementations must support starting a buffer at a future deadline.
type Device interface {
	Start(samples []float32, sampleRate int, at time.Time) (Node, error)
}

// Player schedules decoded PCM fragments for gapless sequential playback on
// a single shared output timeline. It owns the serial schedule cursor: each
// fragment starts at max(cursor, now) and the cursor advances by the
// fragment's duration, so fragments never overlap and play in submit order.
type Player struct {
	device Device
	clock  Clock

	mu     sync.Mutex
	cursor time.Time
	nodes  map[uint64]Node
	nextID uint64
	closed bool
}

// NewPlayer creates a player on the given output device
func NewPlayer(device Device, clock Clock) *Player {
	if clock == nil {
		clock = SystemClock()
	}
	return &Player{
		device: device,
		clock:  clock,
		nodes:  make(map[uint64]Node),
	}
}

// PlayFragment schedules one fragment at the cursor position
func (p *Player) PlayFragment(f *Fragment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("player is closed")
	}
	if len(f.Samples) == 0 {
		return &DecodeError{Reason: "zero samples"}
	}

	// Clamp the cursor to now so a gap in arrivals does not schedule
	// audio in the past
	now := p.clock.Now()
	start := p.cursor
	if start.Before(now) {
		start = now
	}

	node, err := p.device.Start(f.Samples, f.SampleRate, start)
	if err != nil {
		return fmt.Errorf("device start: %w", err)
	}

	id := p.nextID
	p.nextID++
	p.nodes[id] = node

	// Nodes deregister themselves when finished so StopAll only touches
	// live playback
	go func() {
		<-node.Done()
		p.mu.Lock()
		delete(p.nodes, id)
		p.mu.Unlock()
	}()

	p.cursor = start.Add(f.Duration())
	return nil
}

// PlayBase64 decodes a base64 PCM16 fragment and schedules it
func (p *Player) PlayBase64(encoded string, sampleRate int) error {
	f, err := DecodeBase64PCM(encoded, sampleRate)
	if err != nil {
		return err
	}
	return p.PlayFragment(f)
}

// StopAll stops every scheduled or playing node, clears the registry, and
// resets the cursor to now so the next fragment starts immediately
func (p *Player) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, node := range p.nodes {
		node.Stop()
		delete(p.nodes, id)
	}
	p.cursor = p.clock.Now()
}

// Cursor returns the time the next fragment would be scheduled at
func (p *Player) Cursor() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// ActiveNodes returns the number of registered playback nodes
func (p *Player) ActiveNodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// Close stops all playback and rejects further fragments
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.StopAll()
}

// nullNode completes after its scheduled duration without producing output
type nullNode struct {
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

func (n *nullNode) Stop() {
	n.once.Do(func() {
		if n.timer != nil {
			n.timer.Stop()
		}
		close(n.done)
	})
}

func (n *nullNode) Done() <-chan struct{} { return n.done }

// NullDevice discards audio while honoring playback timing. Useful for
// headless operation and tests.
type NullDevice struct{}

// Start implements Device
func (NullDevice) Start(samples []float32, sampleRate int, at time.Time) (Node, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	n := &nullNode{done: make(chan struct{})}
	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	delay := time.Until(at) + duration
	if delay < 0 {
		delay = 0
	}
	n.timer = time.AfterFunc(delay, func() { n.Stop() })
	return n, nil
}
