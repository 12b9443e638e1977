package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PreservesPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 200
	q := NewQueue(16)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			q.Publish(NewConnected(id, [4]byte{127, 0, 0, 1}, 1000))
			for i := 0; i < perProducer; i++ {
				seq := uint32(i)
				q.Publish(Event{Type: EventClientMessage, ClientID: id, Payload: ClientMessagePayload{Sequence: &seq}})
			}
			q.Publish(NewDisconnected(id))
		}(uint32(p))
	}

	next := make(map[uint32]int)
	finished := 0
	for finished < producers {
		select {
		case ev := <-q.Events():
			switch ev.Type {
			case EventClientConnected:
				assert.Equal(t, 0, next[ev.ClientID], "connected must come first")
				next[ev.ClientID] = 0
			case EventClientMessage:
				payload := ev.Payload.(ClientMessagePayload)
				require.Equal(t, uint32(next[ev.ClientID]), *payload.Sequence)
				next[ev.ClientID]++
			case EventClientDisconnected:
				assert.Equal(t, perProducer, next[ev.ClientID])
				finished++
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	wg.Wait()
}

func TestQueue_PublishAfterCloseIsDropped(t *testing.T) {
	q := NewQueue(1)
	q.Publish(NewDisconnected(1))
	q.Close()
	q.Close()

	done := make(chan struct{})
	go func() {
		q.Publish(NewDisconnected(2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a closed queue")
	}
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint32(1), (<-q.Events()).ClientID)
}

func TestQueue_DefaultSize(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, DefaultQueueSize, cap(q.ch))
}
