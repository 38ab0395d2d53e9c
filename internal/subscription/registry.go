// Package subscription tracks which topics the client wants and which of
// them the server has acknowledged.
//
// A Registry is not safe for concurrent use; the connection manager guards
// it with its own mutex so that registry changes and wire frames are
// ordered together.
package subscription

import "sort"

// Registry holds the confirmed and pending topic sets.
//
// Last intent wins: a topic requested again while an earlier unsubscribe is
// still unacknowledged ends up confirmed, and a subscribe acknowledgment for
// a topic that was dropped in the meantime is ignored.
type Registry struct {
	confirmed map[string]struct{}
	pending   map[string]struct{}

	// Unacknowledged unsubscribe frames per topic.
	unsubscribing map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		confirmed:     make(map[string]struct{}),
		pending:       make(map[string]struct{}),
		unsubscribing: make(map[string]int),
	}
}

// Request marks topics as wanted and returns the ones that became pending.
// Topics already confirmed or pending are skipped, as are empty names and
// duplicates within the call.
func (r *Registry) Request(topics ...string) []string {
	var added []string
	for _, t := range topics {
		if t == "" || r.wanted(t) {
			continue
		}
		r.pending[t] = struct{}{}
		added = append(added, t)
	}
	return added
}

// Remove drops a topic from both sets. sent reports whether an unsubscribe
// frame went out for it, in which case its acknowledgment is expected.
// Remove returns whether the topic was wanted.
func (r *Registry) Remove(topic string, sent bool) bool {
	was := r.wanted(topic)
	delete(r.confirmed, topic)
	delete(r.pending, topic)
	if sent {
		r.unsubscribing[topic]++
	}
	return was
}

// Confirm applies a subscribe acknowledgment. It returns false when the
// topic is no longer wanted.
func (r *Registry) Confirm(topic string) bool {
	if _, ok := r.confirmed[topic]; ok {
		return true
	}
	if _, ok := r.pending[topic]; !ok {
		return false
	}
	delete(r.pending, topic)
	r.confirmed[topic] = struct{}{}
	return true
}

// Release applies an unsubscribe acknowledgment. An acknowledgment that
// answers one of our own unsubscribe frames only settles that frame; an
// unsolicited one removes the topic from the confirmed set. Release returns
// whether the confirmed set changed.
func (r *Registry) Release(topic string) bool {
	if n := r.unsubscribing[topic]; n > 0 {
		if n == 1 {
			delete(r.unsubscribing, topic)
		} else {
			r.unsubscribing[topic] = n - 1
		}
		return false
	}
	if _, ok := r.confirmed[topic]; !ok {
		return false
	}
	delete(r.confirmed, topic)
	return true
}

// Seed applies the channel list of a connected frame: wanted topics become
// confirmed. It returns the seeded topics that are not wanted any more.
func (r *Registry) Seed(topics []string) (unwanted []string) {
	for _, t := range topics {
		if t == "" {
			continue
		}
		if !r.Confirm(t) {
			unwanted = append(unwanted, t)
		}
	}
	return unwanted
}

// Demote moves every confirmed topic back to pending. It is applied when the
// connection is lost: the server forgets all subscriptions, so each wanted
// topic must be requested again on the next connection.
func (r *Registry) Demote() {
	for t := range r.confirmed {
		r.pending[t] = struct{}{}
	}
	clear(r.confirmed)
	clear(r.unsubscribing)
}

// Reset forgets everything.
func (r *Registry) Reset() {
	clear(r.confirmed)
	clear(r.pending)
	clear(r.unsubscribing)
}

// IsConfirmed reports whether the server acknowledged the topic.
func (r *Registry) IsConfirmed(topic string) bool {
	_, ok := r.confirmed[topic]
	return ok
}

// IsPending reports whether the topic is requested but not acknowledged.
func (r *Registry) IsPending(topic string) bool {
	_, ok := r.pending[topic]
	return ok
}

// Confirmed returns the confirmed topics in sorted order.
func (r *Registry) Confirmed() []string {
	return sortedKeys(r.confirmed)
}

// Pending returns the pending topics in sorted order.
func (r *Registry) Pending() []string {
	return sortedKeys(r.pending)
}

// Wanted returns confirmed and pending topics together, sorted.
func (r *Registry) Wanted() []string {
	out := make([]string, 0, len(r.confirmed)+len(r.pending))
	for t := range r.confirmed {
		out = append(out, t)
	}
	for t := range r.pending {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Counts returns the sizes of the confirmed and pending sets.
func (r *Registry) Counts() (confirmed, pending int) {
	return len(r.confirmed), len(r.pending)
}

func (r *Registry) wanted(topic string) bool {
	if _, ok := r.confirmed[topic]; ok {
		return true
	}
	_, ok := r.pending[topic]
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
