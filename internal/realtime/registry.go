package realtime

import (
	"sort"
	"sync"
)

// subscriberEntry is one consumer registered on a channel.
type subscriberEntry struct {
	id      string
	handler Handler
}

// registry maps channel names to their ordered consumer sets. It is keyed by
// consumer ID, so re-registering the same consumer replaces its handler in
// place instead of adding a second delivery. The registry survives
// reconnection: replay reads the channel list, delivery reads the handler
// slice in registration order.
type registry struct {
	mu       sync.RWMutex
	channels map[string][]subscriberEntry
}

func newRegistry() *registry {
	return &registry{channels: make(map[string][]subscriberEntry)}
}

// add registers handler under (channel, id). Reports whether this made the
// channel's set non-empty for the first time.
func (r *registry) add(channel, id string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.channels[channel]
	for i, e := range entries {
		if e.id == id {
			entries[i].handler = h
			return false
		}
	}
	r.channels[channel] = append(entries, subscriberEntry{id: id, handler: h})
	return len(entries) == 0
}

// remove drops (channel, id). Reports whether the entry existed and whether
// the channel's set became empty.
func (r *registry) remove(channel, id string) (removed, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.channels[channel]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(r.channels, channel)
			return true, true
		}
		r.channels[channel] = entries
		return true, false
	}
	return false, false
}

// handlers returns a snapshot of the channel's handlers in registration
// order.
func (r *registry) handlers(channel string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.channels[channel]
	if len(entries) == 0 {
		return nil
	}
	out := make([]Handler, len(entries))
	for i, e := range entries {
		out[i] = e.handler
	}
	return out
}

// channelList returns every channel with a non-empty set, sorted for
// deterministic replay.
func (r *registry) channelList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.channels))
	for ch := range r.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// counts returns the number of channels and total subscribers.
func (r *registry) counts() (channels, subscribers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entries := range r.channels {
		subscribers += len(entries)
	}
	return len(r.channels), subscribers
}
