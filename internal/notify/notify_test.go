package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	channel string
	message []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("boom") }

func TestRedisPublisherWritesJSONToUserChannel(t *testing.T) {
	client := &fakeRedis{}
	p := newRedisPublisher(client, "sq")

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{Type: EventPointsAwarded, UserID: "u1", Payload: map[string]int{"points": 20}, At: at})
	require.NoError(t, err)

	assert.Equal(t, "sq:u1", client.channel)

	var decoded struct {
		Type    string         `json:"type"`
		UserID  string         `json:"user_id"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(client.message, &decoded))
	assert.Equal(t, EventPointsAwarded, decoded.Type)
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, 20, decoded.Payload["points"])
}

func TestRedisPublisherDefaultPrefixAndErrors(t *testing.T) {
	client := &fakeRedis{err: errors.New("connection refused")}
	p := newRedisPublisher(client, "")

	assert.Equal(t, "studyquest:abc", p.Channel("abc"))

	err := p.Publish(context.Background(), Event{Type: EventStreakUpdated, UserID: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, p.Close())
}

func TestMultiTriesEveryPublisher(t *testing.T) {
	rec := &Recorder{}
	m := Multi{failingPublisher{}, nil, rec}

	err := m.Publish(context.Background(), Event{Type: EventShieldUsed, UserID: "u1"})
	assert.Error(t, err)
	assert.Equal(t, []string{EventShieldUsed}, rec.Types())

	assert.NoError(t, Multi{rec, Nop{}}.Publish(context.Background(), Event{Type: EventShieldEarned}))
	assert.Len(t, rec.Events(), 2)
}
