package channel_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pushlane/pushlane/internal/channel"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := channel.NewBroadcaster()
	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	ev := channel.RegistrationEvent{ChannelID: "abc", Success: true}
	b.Publish(ev)

	assert.Equal(t, ev, <-first)
	assert.Equal(t, ev, <-second)
}

func TestBroadcaster_FullSubscriberDoesNotBlock(t *testing.T) {
	b := channel.NewBroadcaster()
	_, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 100; i++ {
		b.Publish(channel.RegistrationEvent{})
	}
	assert.Positive(t, b.Dropped())
}

func TestBroadcaster_CancelClosesChannel(t *testing.T) {
	b := channel.NewBroadcaster()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(channel.RegistrationEvent{})
}

func TestCoordinator_StartsOnce(t *testing.T) {
	c := channel.NewCoordinator()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryStartRegistration() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, c.RegistrationStarted())
}
