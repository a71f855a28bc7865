package statesync

import "sync/atomic"

// Notifier is the handle mutation paths use to report committed changes.
// Any number of MarkDirty calls between two scheduler cycles collapse into a
// single pending wake.
type Notifier struct {
	enabled    bool
	dirty      atomic.Bool
	generation atomic.Uint64
	wake       chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{enabled: true, wake: make(chan struct{}, 1)}
}

// Disabled returns a notifier that ignores MarkDirty. It is handed to the
// store when the network is turned off.
func Disabled() *Notifier {
	return &Notifier{wake: make(chan struct{}, 1)}
}

// MarkDirty records that state changed. It never blocks.
func (n *Notifier) MarkDirty() {
	if n == nil || !n.enabled {
		return
	}
	// generation first: a reader that sees dirty also sees the new generation.
	n.generation.Add(1)
	n.dirty.Store(true)
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

func (n *Notifier) Dirty() bool { return n.dirty.Load() }

// Generation counts MarkDirty calls since the notifier was created.
func (n *Notifier) Generation() uint64 { return n.generation.Load() }

func (n *Notifier) Wake() <-chan struct{} { return n.wake }

// take consumes the flag.
func (n *Notifier) take() bool { return n.dirty.Swap(false) }

func (n *Notifier) rearm() { n.dirty.Store(true) }

// settle is called once everything up to gen has been accepted. The flag is
// cleared only if no change arrived after gen.
func (n *Notifier) settle(gen uint64) {
	if n.generation.Load() != gen {
		n.dirty.Store(true)
		return
	}
	n.dirty.Store(false)
	if n.generation.Load() != gen {
		n.dirty.Store(true)
	}
}
