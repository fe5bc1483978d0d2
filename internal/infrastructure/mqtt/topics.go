package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefixSystem is the base for HomeNet's own topics.
const TopicPrefixSystem = "homenet/system"

// Topics builds HomeNet's own topics.
type Topics struct{}

// SystemStatus is where the core publishes its retained online/offline
// status (and where the broker publishes the last will).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ZWaveTopics builds topics of a Z-Wave gateway rooted at a prefix.
//
//	zwave/driver                          driver events
//	zwave/node/{node}/info                node added / ready
//	zwave/node/{node}/value/{cc}/{index}  value state (empty payload = removed)
//	zwave/node/{node}/set/{cc}/{index}    write a value
//	zwave/node/{node}/poll/{cc}           enable or disable polling
type ZWaveTopics string

// Driver returns the driver event topic.
func (p ZWaveTopics) Driver() string {
	return string(p) + "/driver"
}

// NodeInfo returns the info topic of one node.
func (p ZWaveTopics) NodeInfo(node int) string {
	return fmt.Sprintf("%s/node/%d/info", p, node)
}

// AllNodeInfo matches the info topics of every node.
func (p ZWaveTopics) AllNodeInfo() string {
	return string(p) + "/node/+/info"
}

// Value returns the state topic of one value.
func (p ZWaveTopics) Value(node, commandClass, index int) string {
	return fmt.Sprintf("%s/node/%d/value/%d/%d", p, node, commandClass, index)
}

// AllValues matches the value topics of every node.
func (p ZWaveTopics) AllValues() string {
	return string(p) + "/node/+/value/+/+"
}

// Set returns the write topic of one value.
func (p ZWaveTopics) Set(node, commandClass, index int) string {
	return fmt.Sprintf("%s/node/%d/set/%d/%d", p, node, commandClass, index)
}

// Poll returns the polling control topic of one command class.
func (p ZWaveTopics) Poll(node, commandClass int) string {
	return fmt.Sprintf("%s/node/%d/poll/%d", p, node, commandClass)
}

// NodeTopic is a parsed node-level gateway topic.
type NodeTopic struct {
	Node         int
	Kind         string // "info", "value", "set" or "poll"
	CommandClass int
	Index        int
}

// ParseNode parses a topic below {prefix}/node/. ok is false for topics
// outside the prefix or with non-numeric segments.
func (p ZWaveTopics) ParseNode(topic string) (NodeTopic, bool) {
	rest, found := strings.CutPrefix(topic, string(p)+"/node/")
	if !found {
		return NodeTopic{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return NodeTopic{}, false
	}

	nums := make([]int, 0, 3)
	for i, s := range parts {
		if i == 1 {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return NodeTopic{}, false
		}
		nums = append(nums, n)
	}

	t := NodeTopic{Node: nums[0], Kind: parts[1]}
	switch {
	case t.Kind == "info" && len(parts) == 2:
	case (t.Kind == "value" || t.Kind == "set") && len(parts) == 4:
		t.CommandClass, t.Index = nums[1], nums[2]
	case t.Kind == "poll" && len(parts) == 3:
		t.CommandClass = nums[1]
	default:
		return NodeTopic{}, false
	}
	return t, true
}
