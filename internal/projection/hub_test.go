package projection

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEvent(i int) Event {
	return Event{Type: "test", Payload: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()

	sub, backlog, err := hub.Subscribe("project:1")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)

	hub.Publish("project:1", rawEvent(1))
	hub.Publish("project:2", rawEvent(2))

	select {
	case evt := <-sub.Events():
		assert.JSONEq(t, `{"seq":1}`, string(evt.Payload))
	default:
		t.Fatal("expected a buffered event")
	}
	// Nothing from the other topic leaks in.
	assert.Empty(t, sub.Events())
}

func TestHubReplayBuffer(t *testing.T) {
	hub := NewHub()

	// Events published while a subscriber exists are retained for the next
	// subscriber on the topic.
	first, _, err := hub.Subscribe("project:1")
	require.NoError(t, err)
	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish("project:1", rawEvent(i))
	}

	_, backlog, err := hub.Subscribe("project:1")
	require.NoError(t, err)
	require.Len(t, backlog, DefaultBufferSize)
	// The oldest entries were evicted.
	assert.JSONEq(t, `{"seq":10}`, string(backlog[0].Payload))
	first.Close()
}

func TestHubTopicWithoutSubscribersDropsEvents(t *testing.T) {
	hub := NewHub()
	hub.Publish("project:1", rawEvent(1))

	_, backlog, err := hub.Subscribe("project:1")
	require.NoError(t, err)
	assert.Empty(t, backlog)
}

func TestHubSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub()

	sub, _, err := hub.Subscribe("project:1")
	require.NoError(t, err)
	defer sub.Close()

	// Overfill the subscriber channel; publishers must not block.
	for i := 0; i < DefaultSubscriberBuffer*2; i++ {
		hub.Publish("project:1", rawEvent(i))
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	sub, _, err := hub.Subscribe("project:1")
	require.NoError(t, err)
	sub.Close()
	sub.Close() // double close is safe

	hub.Publish("project:1", rawEvent(1))
	assert.Empty(t, sub.Events())
}

func TestHubRejectsEmptyTopic(t *testing.T) {
	hub := NewHub()
	_, _, err := hub.Subscribe("   ")
	assert.Error(t, err)
}
