package store

import "sync"

// Subscription is the caller-owned handle of a live listener. Unsubscribe
// is idempotent; a leaked handle keeps its listener alive but corrupts
// nothing.
type Subscription struct {
	once   sync.Once
	cancel func()
	done   chan struct{}
}

// NewSubscription wraps the function that tears the listener down.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel, done: make(chan struct{})}
}

// Unsubscribe stops the listener. It is safe to call from inside the
// listener callback.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Join returns a subscription that cancels all of subs.
func Join(subs ...*Subscription) *Subscription {
	return NewSubscription(func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	})
}

// Noop returns an already usable subscription with nothing behind it.
func Noop() *Subscription { return NewSubscription(nil) }
