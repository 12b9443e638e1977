package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSink_NeverBlocks(t *testing.T) {
	q := NewQueue(2)
	sink := q.ForClient(7)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Dump("client", []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dump blocked")
	}

	assert.Equal(t, uint64(2), q.Queued())
	assert.Equal(t, uint64(8), q.Dropped())

	rec := <-q.Records()
	assert.Equal(t, uint32(7), rec.ClientID)
	assert.Equal(t, []byte{0}, rec.Data)
}

func TestClientSink_CopiesData(t *testing.T) {
	q := NewQueue(1)
	data := []byte{1, 2, 3}
	q.ForClient(1).Dump("client", data)
	data[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, (<-q.Records()).Data)
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	Encode(NewEncoder(&buf), Record{Tag: "client", ClientID: 3, Data: []byte{0x02, 0x00, 0xBC, 0x01}, At: time.Now()})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "client", line["tag"])
	assert.Equal(t, "0200bc01", line["data"])
	assert.Equal(t, float64(4), line["size"])
}

func TestWriter_Run(t *testing.T) {
	dir := t.TempDir()
	q := NewQueue(4)
	q.ForClient(1).Dump("client", []byte{0xAB})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewWriter(q, dir, 3).Run(ctx) }()

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(dir, "packets_*.jsonl"))
		if len(matches) != 1 {
			return false
		}
		data, _ := os.ReadFile(matches[0])
		return bytes.Contains(data, []byte(`"data":"ab"`))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-errCh)
}
