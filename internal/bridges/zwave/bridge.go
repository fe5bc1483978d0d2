package zwave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eblock12/HomeNet/internal/device"
	"github.com/eblock12/HomeNet/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ValueChange describes a node value that was added or changed.
// Previous is nil for a newly added value.
type ValueChange struct {
	Node         device.NodeID
	CommandClass int
	Index        int
	Label        string
	Previous     any
	Value        any
	Units        string
	At           time.Time
}

// Options configures a Bridge.
type Options struct {
	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// TopicPrefix is the gateway's topic root, e.g. "zwave". Required.
	TopicPrefix string

	// PollClasses are the command classes to enable polling for once a
	// node is ready.
	PollClasses []int

	// QoS for subscriptions and writes.
	QoS byte

	Logger Logger
}

// Bridge mirrors the node table of a Z-Wave MQTT gateway and forwards
// value writes to it.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt        MQTTClient
	topics      mqtt.ZWaveTopics
	pollClasses map[int]bool
	qos         byte

	mu          sync.RWMutex
	nodes       map[device.NodeID]*node
	driverReady bool
	scanned     bool

	listenerMu sync.RWMutex
	listeners  []func(ValueChange)

	started  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	runMu    sync.Mutex

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a bridge. Call Start to subscribe to the gateway.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.TopicPrefix == "" {
		return nil, fmt.Errorf("topic prefix is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	poll := make(map[int]bool, len(opts.PollClasses))
	for _, cc := range opts.PollClasses {
		poll[cc] = true
	}

	return &Bridge{
		mqtt:        opts.MQTT,
		topics:      mqtt.ZWaveTopics(opts.TopicPrefix),
		pollClasses: poll,
		qos:         opts.QoS,
		nodes:       make(map[device.NodeID]*node),
		logger:      logger,
	}, nil
}

// Start subscribes to the driver, node info and node value topics. The
// gateway's retained messages then rebuild the node table.
func (b *Bridge) Start(_ context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.Driver(), b.handleDriver},
		{b.topics.AllNodeInfo(), b.handleInfo},
		{b.topics.AllValues(), b.handleValue},
	}
	for _, s := range subs {
		if err := b.mqtt.Subscribe(s.topic, b.qos, s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
	}
	b.started = true

	b.getLogger().Info("zwave bridge started", "prefix", string(b.topics))
	return nil
}

// Stop unsubscribes and waits for pending poll requests.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.runMu.Lock()
		b.started = false
		b.runMu.Unlock()

		for _, topic := range []string{b.topics.Driver(), b.topics.AllNodeInfo(), b.topics.AllValues()} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.getLogger().Warn("zwave unsubscribe failed", "topic", topic, "error", err)
			}
		}
		b.wg.Wait()
		b.getLogger().Info("zwave bridge stopped")
	})
}

// Ready reports whether the gateway has finished its initial node scan.
func (b *Bridge) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.driverReady && b.scanned
}

// OnValueChange registers fn to receive value changes. fn runs on the MQTT
// delivery goroutine and must not block.
func (b *Bridge) OnValueChange(fn func(ValueChange)) {
	b.listenerMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenerMu.Unlock()
}

// ReadValue returns the current value labelled name on node.
func (b *Bridge) ReadValue(id device.NodeID, name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[id]
	if !ok {
		return nil, false
	}
	ref, ok := n.lookup(name)
	if !ok {
		return nil, false
	}
	return ref.value.Value, true
}

// ReadValues returns every value on node keyed by label. ok is false for
// an unknown node.
func (b *Bridge) ReadValues(id device.NodeID) (map[string]any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[id]
	if !ok {
		return nil, false
	}
	return n.values(), true
}

// WriteValue asks the gateway to set the value labelled name on node.
// The node table is not updated here; the gateway reports the new value
// on the value topic once the device confirms it.
func (b *Bridge) WriteValue(ctx context.Context, id device.NodeID, name string, value any) error {
	b.runMu.Lock()
	started := b.started
	b.runMu.Unlock()
	if !started {
		return ErrNotStarted
	}

	b.mu.RLock()
	n, ok := b.nodes[id]
	var ref valueRef
	if ok {
		ref, ok = n.lookup(name)
		if !ok {
			b.mu.RUnlock()
			return fmt.Errorf("%w: node %d has no %q", ErrValueNotFound, id, name)
		}
	}
	b.mu.RUnlock()

	if n == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	if ref.value.ReadOnly {
		return fmt.Errorf("%w: node %d %q", ErrReadOnly, id, name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := SetMessage{ID: uuid.NewString(), Value: value, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding set message: %w", err)
	}

	topic := b.topics.Set(int(id), ref.commandClass, ref.index)
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}

	b.getLogger().Debug("zwave value write sent",
		"node", id, "class", CommandClassName(ref.commandClass), "label", name,
		"value", value, "command_id", msg.ID)
	return nil
}

// Nodes returns a snapshot of every known node ordered by id.
func (b *Bridge) Nodes() []Node {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Node, 0, len(b.nodes))
	for _, id := range slices.Sorted(maps.Keys(b.nodes)) {
		out = append(out, b.nodes[id].snapshot())
	}
	return out
}

func (b *Bridge) handleDriver(_ string, payload []byte) error {
	msg, err := parseDriver(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	switch msg.Event {
	case DriverReady:
		b.driverReady = true
		b.scanned = false
	case DriverFailed:
		b.driverReady = false
		b.scanned = false
	case DriverScanComplete:
		b.scanned = true
	}
	b.mu.Unlock()

	switch msg.Event {
	case DriverReady:
		b.getLogger().Info("zwave driver ready, scanning for nodes", "home_id", msg.HomeID)
	case DriverFailed:
		b.getLogger().Error("zwave driver failed", "error", msg.Error)
	case DriverScanComplete:
		b.getLogger().Info("zwave node scan complete", "nodes", len(b.Nodes()))
	}
	return nil
}

func (b *Bridge) handleInfo(topic string, payload []byte) error {
	t, ok := b.topics.ParseNode(topic)
	if !ok || t.Kind != "info" {
		return fmt.Errorf("%w: topic %s", ErrInvalidPayload, topic)
	}
	msg, err := parseInfo(payload)
	if err != nil {
		return err
	}
	id := device.NodeID(t.Node)

	b.mu.Lock()
	var toPoll []int
	switch msg.Event {
	case NodeAdded:
		if _, exists := b.nodes[id]; !exists {
			b.nodes[id] = newNode(id)
		}
	case NodeRemoved:
		delete(b.nodes, id)
	case NodeReady:
		n := b.nodeLocked(id)
		n.applyInfo(msg)
		for cc := range n.Classes {
			if b.pollClasses[cc] && !n.polled[cc] {
				n.polled[cc] = true
				toPoll = append(toPoll, cc)
			}
		}
	}
	b.mu.Unlock()

	switch msg.Event {
	case NodeAdded:
		b.getLogger().Info("zwave node added", "node", id)
	case NodeRemoved:
		b.getLogger().Info("zwave node removed", "node", id)
	case NodeReady:
		b.getLogger().Info("zwave node ready", "node", id,
			"manufacturer", msg.Manufacturer, "product", msg.Product,
			"name", msg.Name, "type", msg.Type, "location", msg.Location)
	}
	b.enablePolling(id, toPoll)
	return nil
}

func (b *Bridge) handleValue(topic string, payload []byte) error {
	t, ok := b.topics.ParseNode(topic)
	if !ok || t.Kind != "value" {
		return fmt.Errorf("%w: topic %s", ErrInvalidPayload, topic)
	}
	msg, present, err := parseValue(payload)
	if err != nil {
		return err
	}
	id := device.NodeID(t.Node)

	if !present {
		b.mu.Lock()
		removed := false
		if n, ok := b.nodes[id]; ok {
			removed = n.remove(t.CommandClass, t.Index)
		}
		b.mu.Unlock()
		if removed {
			b.getLogger().Debug("zwave value removed", "node", id,
				"class", CommandClassName(t.CommandClass), "index", t.Index)
		}
		return nil
	}

	v := Value{Label: msg.Label, Value: msg.Value, Units: msg.Units, ReadOnly: msg.ReadOnly}

	b.mu.Lock()
	n := b.nodeLocked(id)
	prev, existed := n.set(t.CommandClass, t.Index, v)
	var toPoll []int
	if n.Ready && b.pollClasses[t.CommandClass] && !n.polled[t.CommandClass] {
		n.polled[t.CommandClass] = true
		toPoll = append(toPoll, t.CommandClass)
	}
	b.mu.Unlock()

	b.enablePolling(id, toPoll)

	if existed && reflect.DeepEqual(prev.Value, v.Value) {
		return nil
	}

	change := ValueChange{
		Node:         id,
		CommandClass: t.CommandClass,
		Index:        t.Index,
		Label:        v.Label,
		Value:        v.Value,
		Units:        v.Units,
		At:           time.Now(),
	}
	if existed {
		change.Previous = prev.Value
		b.getLogger().Debug("zwave value changed", "node", id,
			"class", CommandClassName(t.CommandClass), "label", v.Label,
			"from", prev.Value, "to", v.Value)
	}
	b.notify(change)
	return nil
}

// nodeLocked returns the node, creating it when values or info arrive
// before the added event. Retained messages have no ordering guarantee.
func (b *Bridge) nodeLocked(id device.NodeID) *node {
	n, ok := b.nodes[id]
	if !ok {
		n = newNode(id)
		b.nodes[id] = n
	}
	return n
}

// enablePolling publishes poll requests off the delivery goroutine, since
// waiting on a publish inside a paho handler can stall the client.
func (b *Bridge) enablePolling(id device.NodeID, classes []int) {
	if len(classes) == 0 {
		return
	}
	payload, _ := json.Marshal(PollMessage{Enabled: true}) //nolint:errcheck // fixed struct

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, cc := range classes {
			topic := b.topics.Poll(int(id), cc)
			if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
				if !errors.Is(err, mqtt.ErrNotConnected) {
					b.getLogger().Warn("zwave enable polling failed", "node", id, "class", CommandClassName(cc), "error", err)
				}
				continue
			}
			b.getLogger().Debug("zwave polling enabled", "node", id, "class", CommandClassName(cc))
		}
	}()
}

func (b *Bridge) notify(change ValueChange) {
	b.listenerMu.RLock()
	listeners := slices.Clone(b.listeners)
	b.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}
