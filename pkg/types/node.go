package types

import "time"

// NodeState is the liveness classification of a worker node.
type NodeState string

const (
	NodeStateUnregistered NodeState = "unregistered"
	NodeStateOnline       NodeState = "online"
	NodeStateDisabled     NodeState = "disabled"
	NodeStateTimedOut     NodeState = "timed-out"
)

// 节点哈希中 state 字段的取值，与节点代理保持一致
const (
	nodeCodeOnline   = "1"
	nodeCodeDisabled = "2"
	nodeCodeTimedOut = "3"
)

// Code returns the value stored in the node hash for this state.
// NodeStateUnregistered has no stored representation.
func (s NodeState) Code() string {
	switch s {
	case NodeStateOnline:
		return nodeCodeOnline
	case NodeStateDisabled:
		return nodeCodeDisabled
	case NodeStateTimedOut:
		return nodeCodeTimedOut
	default:
		return ""
	}
}

// ParseNodeState maps a stored state code back to a NodeState.
func ParseNodeState(code string) NodeState {
	switch code {
	case nodeCodeOnline:
		return NodeStateOnline
	case nodeCodeDisabled:
		return NodeStateDisabled
	case nodeCodeTimedOut:
		return NodeStateTimedOut
	default:
		return NodeStateUnregistered
	}
}

// Node is the registry view of a worker node.
type Node struct {
	Name          string    `json:"name"`
	State         NodeState `json:"state"`
	MaxTaskNum    int       `json:"maxTaskNum"`
	Version       string    `json:"version"`
	LastHeartbeat time.Time `json:"updateTime"`
	Running       int64     `json:"running"`
	Finished      int64     `json:"finished"`
	CPUNum        string    `json:"cpuNum"`
	MemNum        string    `json:"memNum"`
}

// HeartbeatInfo is what a node reports on every heartbeat.
type HeartbeatInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	MaxTaskNum int    `json:"maxTaskNum"`
	Running    int64  `json:"running"`
	Finished   int64  `json:"finished"`
	CPUNum     string `json:"cpuNum"`
	MemNum     string `json:"memNum"`
}

// NodeLog is a log line published by a node on the logs channel.
type NodeLog struct {
	Name string `json:"name"`
	Log  string `json:"log"`
}
