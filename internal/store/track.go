package store

import "github.com/anonto42/nano-midea/realtime/internal/metrics"

// Tracked counts sub in the active subscription gauge under kind until it
// is cancelled, either by its owner or by the store.
func Tracked(kind string, sub *Subscription) *Subscription {
	g := metrics.ActiveSubscriptions.WithLabelValues(kind)
	g.Inc()
	outer := NewSubscription(func() {
		sub.Unsubscribe()
		g.Dec()
	})
	go func() {
		select {
		case <-sub.Done():
			outer.Unsubscribe()
		case <-outer.Done():
		}
	}()
	return outer
}
