package interval

import (
	"sync"
	"time"
)

// Interval runs a handler on a fixed period until cleared, like the
// javascript setInterval builtin
type Interval struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// Reset restarts the period without recreating the interval
func (i *Interval) Reset(period time.Duration) {
	i.ticker.Reset(period)
}

// Clear stops the interval. It is safe to call more than once and from
// inside the handler.
func (i *Interval) Clear() {
	i.once.Do(func() {
		i.ticker.Stop()
		close(i.done)
	})
}

// Done is closed once the interval has been cleared
func (i *Interval) Done() <-chan struct{} {
	return i.done
}

// Cleared returns true if Clear has been called
func (i *Interval) Cleared() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

// SetInterval calls handler every period until the interval is cleared
func SetInterval(handler func(i *Interval), period time.Duration) *Interval {
	i := &Interval{
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-i.done:
				return

			case <-i.ticker.C:
				// a tick may race with Clear
				if i.Cleared() {
					return
				}
				handler(i)
			}
		}
	}()

	return i
}

// ClearInterval imitates the builtin javascript function
func ClearInterval(i *Interval) {
	i.Clear()
}

// SetTimeout calls handler once after timeout unless cleared first
func SetTimeout(handler func(), timeout time.Duration) *Interval {
	return SetInterval(func(i *Interval) {
		i.Clear()
		handler()
	}, timeout)
}

// ClearTimeout imitates the builtin javascript function
func ClearTimeout(i *Interval) {
	i.Clear()
}
