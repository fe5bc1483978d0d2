package zwave

import (
	"maps"
	"slices"

	"github.com/eblock12/HomeNet/internal/device"
)

// Node is a snapshot of one node reported by the gateway.
type Node struct {
	ID             device.NodeID `json:"id"`
	Ready          bool          `json:"ready"`
	Manufacturer   string        `json:"manufacturer,omitempty"`
	ManufacturerID string        `json:"manufacturer_id,omitempty"`
	Product        string        `json:"product,omitempty"`
	ProductType    string        `json:"product_type,omitempty"`
	ProductID      string        `json:"product_id,omitempty"`
	Type           string        `json:"type,omitempty"`
	Name           string        `json:"name,omitempty"`
	Location       string        `json:"location,omitempty"`

	// Classes maps command class to value index to value.
	Classes map[int]map[int]Value `json:"classes"`
}

// Value is one value of a node.
type Value struct {
	Label    string `json:"label"`
	Value    any    `json:"value"`
	Units    string `json:"units,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// valueRef locates a value inside a node.
type valueRef struct {
	commandClass int
	index        int
	value        Value
}

type node struct {
	Node
	polled map[int]bool
}

func newNode(id device.NodeID) *node {
	return &node{
		Node:   Node{ID: id, Classes: make(map[int]map[int]Value)},
		polled: make(map[int]bool),
	}
}

func (n *node) applyInfo(msg InfoMessage) {
	n.Ready = true
	n.Manufacturer = msg.Manufacturer
	n.ManufacturerID = msg.ManufacturerID
	n.Product = msg.Product
	n.ProductType = msg.ProductType
	n.ProductID = msg.ProductID
	n.Type = msg.Type
	n.Name = msg.Name
	n.Location = msg.Location
}

// set stores v and returns the value it replaced.
func (n *node) set(cc, index int, v Value) (Value, bool) {
	values, ok := n.Classes[cc]
	if !ok {
		values = make(map[int]Value)
		n.Classes[cc] = values
	}
	prev, existed := values[index]
	values[index] = v
	return prev, existed
}

func (n *node) remove(cc, index int) bool {
	values, ok := n.Classes[cc]
	if !ok {
		return false
	}
	if _, ok := values[index]; !ok {
		return false
	}
	delete(values, index)
	if len(values) == 0 {
		delete(n.Classes, cc)
	}
	return true
}

// refs returns every value in command class then index order, so label
// lookups resolve duplicates the same way every time.
func (n *node) refs() []valueRef {
	var out []valueRef
	for _, cc := range slices.Sorted(maps.Keys(n.Classes)) {
		values := n.Classes[cc]
		for _, idx := range slices.Sorted(maps.Keys(values)) {
			out = append(out, valueRef{commandClass: cc, index: idx, value: values[idx]})
		}
	}
	return out
}

func (n *node) lookup(label string) (valueRef, bool) {
	for _, r := range n.refs() {
		if r.value.Label == label {
			return r, true
		}
	}
	return valueRef{}, false
}

// values returns label to value, first label wins.
func (n *node) values() map[string]any {
	out := make(map[string]any)
	for _, r := range n.refs() {
		if _, dup := out[r.value.Label]; !dup {
			out[r.value.Label] = r.value.Value
		}
	}
	return out
}

func (n *node) snapshot() Node {
	cp := n.Node
	cp.Classes = make(map[int]map[int]Value, len(n.Classes))
	for cc, values := range n.Classes {
		cp.Classes[cc] = maps.Clone(values)
	}
	return cp
}
