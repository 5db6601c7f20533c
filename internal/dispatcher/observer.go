package dispatcher

// Observer receives dispatcher activity for metrics. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	EventsEnqueued(n int)
	EventsRejected(n int)
	EventsPushed(n int)
	CallbackFailed(kind string)
	QueueDepth(n int)
}

// NopObserver discards every observation.
type NopObserver struct{}

// EventsEnqueued implements Observer.
func (NopObserver) EventsEnqueued(int) {}

// EventsRejected implements Observer.
func (NopObserver) EventsRejected(int) {}

// EventsPushed implements Observer.
func (NopObserver) EventsPushed(int) {}

// CallbackFailed implements Observer.
func (NopObserver) CallbackFailed(string) {}

// QueueDepth implements Observer.
func (NopObserver) QueueDepth(int) {}
