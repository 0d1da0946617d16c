package signal

// Bus is the FIFO queue of signals waiting for the next aggregation.
//
// The bus is owned by the orchestrator and is not safe for concurrent use.
type Bus struct {
	pending []Signal
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{pending: make([]Signal, 0, 64)}
}

// Publish appends s to the back of the queue.
func (b *Bus) Publish(s Signal) {
	b.pending = append(b.pending, s)
}

// Drain removes and returns every pending signal in publish order.
func (b *Bus) Drain() []Signal {
	out := b.pending
	b.pending = make([]Signal, 0, cap(out))
	return out
}

// PurgeFrom drops every pending signal published by source and returns how
// many were dropped.
func (b *Bus) PurgeFrom(source string) int {
	return b.purge(func(s Signal) bool { return s.Source == source })
}

// PurgeTo drops every pending non-vote signal addressed to target.
// Votes about target are kept: the subject of a vote is not its recipient.
func (b *Bus) PurgeTo(target string) int {
	return b.purge(func(s Signal) bool { return s.Target == target && !IsConsensusClass(s.Topic) })
}

// Len returns the number of pending signals.
func (b *Bus) Len() int {
	return len(b.pending)
}

func (b *Bus) purge(drop func(Signal) bool) int {
	kept := b.pending[:0]
	dropped := 0
	for _, s := range b.pending {
		if drop(s) {
			dropped++
			continue
		}
		kept = append(kept, s)
	}
	b.pending = kept
	return dropped
}
