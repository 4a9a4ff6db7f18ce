package tracker

import (
	"sync"
	"time"
)

// Ticker runs fn every interval on its own goroutine until released. It is
// registered as a Timer under name; Release stops the loop and waits for an
// in-progress fn to return, so fn must not release its own ticker.
func (t *Tracker) Ticker(name string, interval time.Duration, fn func()) Releaser {
	tk := time.NewTicker(interval)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				t.runTick(name, fn)
			}
		}
	}()

	var once sync.Once
	r := ReleaseFunc(func() error {
		once.Do(func() {
			tk.Stop()
			close(stop)
			<-done
		})
		return nil
	})
	t.RegisterTimer(name, r)
	return r
}

func (t *Tracker) runTick(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Str("name", name).Msg("ticker callback panicked")
		}
	}()
	fn()
}
