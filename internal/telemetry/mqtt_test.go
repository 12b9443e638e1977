package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/events"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func TestNewMQTTHandler_Disabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = false

	_, err := NewMQTTHandler(cfg, events.NewEventBus(), "test")
	assert.Error(t, err)
}

func TestMQTTHandler_ForwardsPlayerEvents(t *testing.T) {
	bus := events.NewEventBus()
	pub := &fakePublisher{connected: true}
	h := &MQTTHandler{eventBus: bus, pub: pub, metadata: map[string]interface{}{"hostname": "login-1"}}

	h.subscribeEvents()
	bus.Emit(context.Background(), events.Event{
		Type:     events.EventPlayerJoined,
		ClientID: 3,
		Payload:  events.PlayerPayload{ID: 3, IP: "10.0.0.3", State: "handshake"},
	})

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := pub.snapshot()[0]
	assert.Equal(t, TopicClients, msg.topic)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, "login-1", body["hostname"])
	inner := body["payload"].(map[string]interface{})
	assert.Equal(t, "player_joined", inner["event"])

	h.unsubscribeEvents()
	assert.Equal(t, 0, bus.HandlerCount(events.EventPlayerJoined))
}

func TestMQTTHandler_SkipsWhenDisconnected(t *testing.T) {
	pub := &fakePublisher{}
	h := &MQTTHandler{eventBus: events.NewEventBus(), pub: pub}

	h.PublishShutdown()
	assert.Empty(t, pub.snapshot())
}
