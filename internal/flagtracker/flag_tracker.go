// Package flagtracker lets applications subscribe to flag change notifications, either as
// raw configuration-change events or as evaluated value changes for a specific flag and
// context.
package flagtracker

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/broadcasters"
)

// EvalFn evaluates a flag for a context and returns the resulting value. The tracker calls
// it to decide whether a configuration change produced a different value.
type EvalFn func(flagKey string, context ldcontext.Context) ldvalue.Value

// FlagTracker distributes flag change events. Raw FlagChangeEvents say only that a flag's
// configuration changed in a way that could affect its value; value-change listeners
// additionally re-evaluate the flag and are notified only when the value is different.
type FlagTracker struct {
	broadcaster *broadcasters.Broadcaster[interfaces.FlagChangeEvent]
	evalFn      EvalFn

	valueListeners map[<-chan interfaces.FlagValueChangeEvent]valueListener
	lock           sync.Mutex
}

type valueListener struct {
	changeCh <-chan interfaces.FlagChangeEvent
	stop     chan struct{}
}

// NewFlagTracker creates a FlagTracker feeding off the given flag change broadcaster. evalFn
// is used by AddFlagValueChangeListener to compute current values.
func NewFlagTracker(
	broadcaster *broadcasters.Broadcaster[interfaces.FlagChangeEvent],
	evalFn EvalFn,
) *FlagTracker {
	return &FlagTracker{
		broadcaster:    broadcaster,
		evalFn:         evalFn,
		valueListeners: make(map[<-chan interfaces.FlagValueChangeEvent]valueListener),
	}
}

// AddFlagChangeListener registers for raw flag change events. The returned channel receives
// an event for every flag whose configuration changes.
func (f *FlagTracker) AddFlagChangeListener() <-chan interfaces.FlagChangeEvent {
	return f.broadcaster.AddListener()
}

// RemoveFlagChangeListener unregisters a channel returned by AddFlagChangeListener.
func (f *FlagTracker) RemoveFlagChangeListener(ch <-chan interfaces.FlagChangeEvent) {
	f.broadcaster.RemoveListener(ch)
}

// AddFlagValueChangeListener registers for value changes of one flag as evaluated for one
// context. The current value is computed at registration time; after that, each
// configuration change to the flag triggers a re-evaluation, and an event is delivered only
// if the value differs from the last one seen.
func (f *FlagTracker) AddFlagValueChangeListener(
	flagKey string,
	context ldcontext.Context,
) <-chan interfaces.FlagValueChangeEvent {
	changeCh := f.broadcaster.AddListener()
	valueCh := make(chan interfaces.FlagValueChangeEvent, 10)
	stop := make(chan struct{})

	f.lock.Lock()
	f.valueListeners[valueCh] = valueListener{changeCh: changeCh, stop: stop}
	f.lock.Unlock()

	go f.runValueListener(flagKey, context, changeCh, valueCh, stop)
	return valueCh
}

// RemoveFlagValueChangeListener unregisters a channel returned by
// AddFlagValueChangeListener and closes it.
func (f *FlagTracker) RemoveFlagValueChangeListener(ch <-chan interfaces.FlagValueChangeEvent) {
	f.lock.Lock()
	listener, ok := f.valueListeners[ch]
	if ok {
		delete(f.valueListeners, ch)
	}
	f.lock.Unlock()
	if ok {
		f.broadcaster.RemoveListener(listener.changeCh)
		close(listener.stop)
	}
}

func (f *FlagTracker) runValueListener(
	flagKey string,
	context ldcontext.Context,
	changeCh <-chan interfaces.FlagChangeEvent,
	valueCh chan<- interfaces.FlagValueChangeEvent,
	stop <-chan struct{},
) {
	currentValue := f.evalFn(flagKey, context)
	for {
		select {
		case <-stop:
			close(valueCh)
			return
		case event, ok := <-changeCh:
			if !ok {
				close(valueCh)
				return
			}
			if event.Key != flagKey {
				continue
			}
			newValue := f.evalFn(flagKey, context)
			if newValue.Equal(currentValue) {
				continue
			}
			oldValue := currentValue
			currentValue = newValue
			select {
			case valueCh <- interfaces.FlagValueChangeEvent{
				Key:      flagKey,
				Context:  context,
				OldValue: oldValue,
				NewValue: newValue,
			}:
			case <-stop:
				close(valueCh)
				return
			}
		}
	}
}
