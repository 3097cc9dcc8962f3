package cluster

import (
	"fmt"

	"github.com/blang/semver/v4"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lk2023060901/pairchat-go/internal/json"
)

// NodeRaw 为节点信息的持久化部分。
type NodeRaw struct {
	NodeID   int64  `json:"NodeID,omitempty"`
	Role     string `json:"Role,omitempty"`
	Address  string `json:"Address,omitempty"`
	HostName string `json:"HostName,omitempty"`
	Stopping bool   `json:"Stopping,omitempty"`
	Version  string `json:"Version"`

	LeaseID *clientv3.LeaseID `json:"LeaseID,omitempty"`
}

// NodeInfo 描述集群中一个聊天节点。
// Version 以 semver 形式参与序列化，便于按版本范围筛选节点。
type NodeInfo struct {
	NodeRaw

	Version semver.Version `json:"Version,omitempty"`
}

func (n *NodeInfo) String() string {
	return fmt.Sprintf("Node:<NodeID: %d, Role: %s, Version: %s>", n.NodeID, n.Role, n.Version.String())
}

// MarshalJSON 将节点信息序列化为 JSON 字节。
func (n *NodeInfo) MarshalJSON() ([]byte, error) {
	n.NodeRaw.Version = n.Version.String()
	return json.Marshal(n.NodeRaw)
}

// UnmarshalJSON 将 JSON 字节反序列化为节点信息。
func (n *NodeInfo) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &n.NodeRaw); err != nil {
		return err
	}
	if n.NodeRaw.Version != "" {
		v, err := semver.Parse(n.NodeRaw.Version)
		if err != nil {
			return err
		}
		n.Version = v
	}
	return nil
}

// EventType 表示节点变更事件类型。
type EventType int

const (
	// NoneEvent 为零值占位事件。
	NoneEvent EventType = iota
	// AddEvent 表示有新节点上线。
	AddEvent
	// DelEvent 表示有节点下线。
	DelEvent
	// UpdateEvent 表示节点状态发生更新，目前仅有进入停止流程一种。
	UpdateEvent
)

func (t EventType) String() string {
	switch t {
	case AddEvent:
		return "AddEvent"
	case DelEvent:
		return "DelEvent"
	case UpdateEvent:
		return "UpdateEvent"
	default:
		return ""
	}
}

// Event 表示其他节点的成员关系变更。
type Event struct {
	EventType EventType
	Node      *NodeInfo
}

// Rewatch 定义 watch 因压缩中断后对当前节点列表的重放行为。
// 调用方应在其中完整处理节点列表，处理失败时返回 error。
type Rewatch func(nodes map[string]*NodeInfo) error
