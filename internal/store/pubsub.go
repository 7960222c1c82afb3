package store

// Subscriber is an opaque handle a connection registers with the store's
// pub/sub index. The store never dereferences it beyond identity and the
// Send call; the connection owns the concrete implementation.
type Subscriber struct {
	// Send delivers one already wire-encoded PUBLISH message to the
	// underlying connection. A send failure is swallowed by the caller:
	// no subscriber is ever disconnected as a result.
	Send func(payload []byte) error
}

// NewSubscriber wraps a send function as a pub/sub handle.
func NewSubscriber(send func([]byte) error) *Subscriber {
	return &Subscriber{Send: send}
}

// Subscribe adds sub to channel's subscriber set and returns the
// subscriber's total channel count afterward.
func (s *Store) Subscribe(sub *Subscriber, channel string) int {
	s.pubsubMu.Lock()
	defer s.pubsubMu.Unlock()

	if s.channels[channel] == nil {
		s.channels[channel] = make(map[*Subscriber]struct{})
	}
	s.channels[channel][sub] = struct{}{}

	if s.subscribers[sub] == nil {
		s.subscribers[sub] = make(map[string]struct{})
	}
	s.subscribers[sub][channel] = struct{}{}

	return len(s.subscribers[sub])
}

// Unsubscribe removes sub from channel's subscriber set and returns the
// subscriber's remaining channel count.
func (s *Store) Unsubscribe(sub *Subscriber, channel string) int {
	s.pubsubMu.Lock()
	defer s.pubsubMu.Unlock()

	if set, ok := s.channels[channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.channels, channel)
		}
	}
	if chans, ok := s.subscribers[sub]; ok {
		delete(chans, channel)
		return len(chans)
	}
	return 0
}

// IsSubscribed reports whether sub currently has any channel subscription
// at all — derived from set non-emptiness, never a
// separately tracked bit.
func (s *Store) IsSubscribed(sub *Subscriber) bool {
	s.pubsubMu.Lock()
	defer s.pubsubMu.Unlock()

	return len(s.subscribers[sub]) > 0
}

// Publish writes payload to every current subscriber of channel and
// returns the count of successful deliveries. Per-subscriber send
// failures are swallowed, never counted, and never disconnect anyone.
func (s *Store) Publish(channel string, payload []byte) int {
	s.pubsubMu.Lock()
	subs := make([]*Subscriber, 0, len(s.channels[channel]))
	for sub := range s.channels[channel] {
		subs = append(subs, sub)
	}
	s.pubsubMu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if err := sub.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// CleanupSubscriber removes every channel membership for sub — called on
// connection disconnect so the transpose between channels and subscribers
// never leaves a dangling reference to a closed connection.
func (s *Store) CleanupSubscriber(sub *Subscriber) {
	s.pubsubMu.Lock()
	defer s.pubsubMu.Unlock()

	for channel := range s.subscribers[sub] {
		if set, ok := s.channels[channel]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(s.channels, channel)
			}
		}
	}
	delete(s.subscribers, sub)
}
