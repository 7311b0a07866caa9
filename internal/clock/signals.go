package clock

import (
	"os"
	"os/signal"
)

// Signals abstracts OS signal registration so the hub control loop's
// shutdown trigger can be driven by a fake signal source in tests.
type Signals interface {
	// Notify delivers the named signals to ch until Stop is called.
	Notify(ch chan<- os.Signal, sig ...os.Signal)
	Stop(ch chan<- os.Signal)
}

// RealSignals is the production Signals backed by os/signal.
type RealSignals struct{}

func (RealSignals) Notify(ch chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(ch, sig...)
}

func (RealSignals) Stop(ch chan<- os.Signal) {
	signal.Stop(ch)
}

// FakeSignals lets tests raise a signal programmatically.
type FakeSignals struct {
	subscribers []chan<- os.Signal
}

func (f *FakeSignals) Notify(ch chan<- os.Signal, sig ...os.Signal) {
	f.subscribers = append(f.subscribers, ch)
}

func (f *FakeSignals) Stop(ch chan<- os.Signal) {
	for i, c := range f.subscribers {
		if c == ch {
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			return
		}
	}
}

// Raise delivers sig to every current subscriber.
func (f *FakeSignals) Raise(sig os.Signal) {
	for _, c := range f.subscribers {
		c <- sig
	}
}
