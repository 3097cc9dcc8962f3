package cluster

import (
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lk2023060901/pairchat-go/internal/json"
)

func TestNodeInfoJSONRoundTrip(t *testing.T) {
	node := &NodeInfo{
		NodeRaw: NodeRaw{
			NodeID:   7,
			Role:     "chatnode",
			Address:  "10.0.0.3:8080",
			HostName: "host-3",
		},
		Version: semver.MustParse("1.2.3"),
	}

	data, err := json.Marshal(node)
	require.NoError(t, err)

	got := &NodeInfo{}
	require.NoError(t, got.UnmarshalJSON(data))
	assert.Equal(t, int64(7), got.NodeID)
	assert.Equal(t, "chatnode", got.Role)
	assert.Equal(t, "10.0.0.3:8080", got.Address)
	assert.Equal(t, "1.2.3", got.Version.String())
}

func TestNodeInfoUnmarshalBadVersion(t *testing.T) {
	got := &NodeInfo{}
	err := got.UnmarshalJSON([]byte(`{"NodeID":1,"Version":"not-semver"}`))
	assert.Error(t, err)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "AddEvent", AddEvent.String())
	assert.Equal(t, "DelEvent", DelEvent.String())
	assert.Equal(t, "UpdateEvent", UpdateEvent.String())
	assert.Equal(t, "", NoneEvent.String())
}

func marshalNode(t *testing.T, node *NodeInfo) []byte {
	t.Helper()
	data, err := json.Marshal(node)
	require.NoError(t, err)
	return data
}

func TestWatcherTranslatesEvents(t *testing.T) {
	w := &nodeWatcher{
		eventCh:  make(chan *Event, 10),
		validate: func(*NodeInfo) bool { return true },
	}

	online := &NodeInfo{NodeRaw: NodeRaw{NodeID: 1, Role: "chatnode"}, Version: semver.MustParse("1.0.0")}
	stopping := &NodeInfo{NodeRaw: NodeRaw{NodeID: 2, Role: "chatnode", Stopping: true}, Version: semver.MustParse("1.0.0")}

	w.handleWatchResponse(clientv3.WatchResponse{
		Events: []*clientv3.Event{
			{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Value: marshalNode(t, online)}},
			{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Value: marshalNode(t, stopping)}},
			{Type: mvccpb.DELETE, PrevKv: &mvccpb.KeyValue{Value: marshalNode(t, online)}},
		},
	})

	ev := <-w.eventCh
	assert.Equal(t, AddEvent, ev.EventType)
	assert.Equal(t, int64(1), ev.Node.NodeID)

	ev = <-w.eventCh
	assert.Equal(t, UpdateEvent, ev.EventType)
	assert.Equal(t, int64(2), ev.Node.NodeID)

	ev = <-w.eventCh
	assert.Equal(t, DelEvent, ev.EventType)
}

func TestWatcherFiltersByVersion(t *testing.T) {
	r, err := semver.ParseRange(">=2.0.0")
	require.NoError(t, err)
	w := &nodeWatcher{
		eventCh:  make(chan *Event, 10),
		validate: func(n *NodeInfo) bool { return r(n.Version) },
	}

	old := &NodeInfo{NodeRaw: NodeRaw{NodeID: 1}, Version: semver.MustParse("1.9.0")}
	current := &NodeInfo{NodeRaw: NodeRaw{NodeID: 2}, Version: semver.MustParse("2.1.0")}

	w.handleWatchResponse(clientv3.WatchResponse{
		Events: []*clientv3.Event{
			{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Value: marshalNode(t, old)}},
			{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Value: marshalNode(t, current)}},
		},
	})

	ev := <-w.eventCh
	assert.Equal(t, int64(2), ev.Node.NodeID)
	assert.Empty(t, w.eventCh)
}
