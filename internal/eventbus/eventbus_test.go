package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var a, c []Kind

	b.Subscribe(func(ev Event) { mu.Lock(); a = append(a, ev.Kind); mu.Unlock() })
	b.Subscribe(func(ev Event) { mu.Lock(); c = append(c, ev.Kind); mu.Unlock() })

	b.Publish(Event{Kind: KindArmed})
	b.Publish(Event{Kind: KindTriggered})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{KindArmed, KindTriggered}, a)
	assert.Equal(t, []Kind{KindArmed, KindTriggered}, c)
}

func TestUnsubscribeStopsFutureDeliveries(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []Kind

	unsub := b.Subscribe(func(ev Event) { mu.Lock(); got = append(got, ev.Kind); mu.Unlock() })
	b.Publish(Event{Kind: KindArmed})
	unsub()
	b.Publish(Event{Kind: KindDisarmed})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{KindArmed}, got)
}

// A subscriber unsubscribing itself (or another) mid-Publish must not
// panic or skip/duplicate deliveries already in flight, since Publish
// iterates over a snapshot taken before calling out.
func TestSubscriberMayUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var secondCalls int
	var unsub func()

	unsub = b.Subscribe(func(ev Event) {
		unsub()
	})
	b.Subscribe(func(ev Event) {
		mu.Lock()
		secondCalls++
		mu.Unlock()
	})

	assert.NotPanics(t, func() {
		b.Publish(Event{Kind: KindArmed})
		b.Publish(Event{Kind: KindDisarmed})
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, secondCalls)
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Publish(Event{Kind: KindArmed}) })
}
