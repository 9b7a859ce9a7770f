package engine

// wakeSignal lets Wake nudge the Run loop into an early cycle. The runstator
// command calls Wake on SIGHUP.
//
// The channel is buffered with size 1 so any number of Wake calls between
// two cycles coalesce into a single extra cycle and never block the caller.
type wakeSignal struct {
	ch chan struct{}
}

func newWakeSignal() *wakeSignal {
	return &wakeSignal{ch: make(chan struct{}, 1)}
}

// notify requests a cycle. Non-blocking.
func (w *wakeSignal) notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// wait returns the channel the Run loop selects on.
func (w *wakeSignal) wait() <-chan struct{} {
	return w.ch
}
