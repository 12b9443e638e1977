package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/db"
	"github.com/energizer-project/loginserver/internal/player"
)

type fakeClients struct {
	players []player.Snapshot
	kicked  []uint32
}

func (f *fakeClients) Players() []player.Snapshot { return f.players }

func (f *fakeClients) Player(id uint32) (player.Snapshot, bool) {
	for _, p := range f.players {
		if p.ID == id {
			return p, true
		}
	}
	return player.Snapshot{}, false
}

func (f *fakeClients) Kick(id uint32) error {
	if _, ok := f.Player(id); !ok {
		return errors.New("unknown client")
	}
	f.kicked = append(f.kicked, id)
	return nil
}

type fakeSessions []db.Session

func (f fakeSessions) Recent(context.Context, int) ([]db.Session, error) { return f, nil }

func run(t *testing.T, input string) (string, *fakeClients, *config.Config, bool) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	clients := &fakeClients{players: []player.Snapshot{
		{ID: 3, IP: "10.0.0.3", Port: 5000, State: "lobby", LoginName: "griffon", ConnectedAt: time.Now()},
	}}
	ended := time.Now()
	sessions := fakeSessions{{ID: 1, ClientID: 3, IP: "10.0.0.3", FinalState: "lobby", ConnectedAt: ended.Add(-time.Minute), DisconnectedAt: &ended}}

	quit := false
	var out bytes.Buffer
	c := NewCLI(cfg, clients, sessions, func() { quit = true }, strings.NewReader(input), &out)
	c.Start(context.Background())
	return out.String(), clients, cfg, quit
}

func TestCLI_Status(t *testing.T) {
	out, _, _, _ := run(t, "status\nstatus 3\nstatus 9\n")
	assert.Contains(t, out, "griffon")
	assert.Contains(t, out, "10.0.0.3:5000")
	assert.Contains(t, out, "Client ID:     3")
	assert.Contains(t, out, "Error: client 9 not found")
}

func TestCLI_Kick(t *testing.T) {
	out, clients, _, _ := run(t, "kick 3\nkick\nkick x\n")
	assert.Equal(t, []uint32{3}, clients.kicked)
	assert.Contains(t, out, "Client 3 kicked")
	assert.Contains(t, out, "Error: client id required")
	assert.Contains(t, out, "Error: invalid client id: x")
}

func TestCLI_MOTD(t *testing.T) {
	out, _, cfg, _ := run(t, "motd servers restart at noon\nmotd\n")
	assert.Equal(t, "servers restart at noon", cfg.GetServerInfo().MOTD)
	assert.Contains(t, out, "MOTD: servers restart at noon")
}

func TestCLI_SessionsAndQuit(t *testing.T) {
	out, _, _, quit := run(t, "sessions 5\nbogus\nquit\n")
	assert.Contains(t, out, "1m0s")
	assert.Contains(t, out, "Unknown command: 'bogus'")
	assert.True(t, quit)
}
