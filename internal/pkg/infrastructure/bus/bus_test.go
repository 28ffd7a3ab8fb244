package bus

import (
	"testing"

	"github.com/matryer/is"
)

func TestPublishSubscribe(t *testing.T) {
	is := is.New(t)

	b := New()
	ch := b.Subscribe(TopicEventNormalized)

	b.Publish(TopicEventNormalized, "hello")

	msg := <-ch
	is.Equal(msg, "hello")
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	is := is.New(t)

	b := New()
	ch1 := b.Subscribe(TopicFrameRaw)
	ch2 := b.Subscribe(TopicFrameRaw)

	b.Publish(TopicFrameRaw, 42)

	is.Equal(<-ch1, 42)
	is.Equal(<-ch2, 42)
}

func TestPublishDropsOnFullInboxWithoutBlocking(t *testing.T) {
	is := is.New(t)

	b := New()
	ch := b.Subscribe(TopicError)

	for i := 0; i < DefaultInboxSize+10; i++ {
		b.Publish(TopicError, i)
	}

	is.True(b.Dropped(TopicError) > 0)
	is.Equal(len(ch), DefaultInboxSize)
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	is := is.New(t)

	b := New()
	ch := b.Subscribe(TopicCommandRequest)
	b.Close()

	_, ok := <-ch
	is.True(!ok)
}
