package service

import (
	"sort"
	"sync"
)

// Registry tracks which topics the client wants server-pushed events for,
// independent of transport state. Topics are reference-counted across
// consumers: a consumer releasing a topic does not tear down a subscription
// another consumer still holds, and the wire-level unsubscribe goes out only
// on the last release.
type Registry struct {
	mu        sync.Mutex
	consumers map[string]map[string]struct{} // consumer -> topics held
	refs      map[string]int                 // topic -> holder count
}

func NewRegistry() *Registry {
	return &Registry{
		consumers: make(map[string]map[string]struct{}),
		refs:      make(map[string]int),
	}
}

// Add records a consumer's interest in a topic. Returns true when the topic
// is newly held by anyone, i.e. a wire subscribe is warranted.
func (r *Registry) Add(consumer, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.consumers[consumer]
	if !ok {
		held = make(map[string]struct{})
		r.consumers[consumer] = held
	}
	if _, already := held[topic]; already {
		return false
	}
	held[topic] = struct{}{}

	r.refs[topic]++
	return r.refs[topic] == 1
}

// Remove releases a consumer's interest. Returns true when no consumer holds
// the topic anymore, i.e. a wire unsubscribe is warranted.
func (r *Registry) Remove(consumer, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.consumers[consumer]
	if !ok {
		return false
	}
	if _, holds := held[topic]; !holds {
		return false
	}
	delete(held, topic)
	if len(held) == 0 {
		delete(r.consumers, consumer)
	}

	r.refs[topic]--
	if r.refs[topic] <= 0 {
		delete(r.refs, topic)
		return true
	}
	return false
}

// IsSubscribed reports whether any consumer holds the topic.
func (r *Registry) IsSubscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[topic] > 0
}

// Topics returns a sorted snapshot of every held topic, used to replay
// subscriptions after each authenticated transition.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.refs))
	for topic := range r.refs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
