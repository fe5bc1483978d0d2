package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is the lifecycle state of a Store.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SaveResult describes one completed write of the backing document.
type SaveResult struct {
	Devices  int
	Bytes    int
	Duration time.Duration
	Err      error
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	State       State
	Devices     int
	Dirty       bool
	Saving      bool
	Saves       uint64
	SaveErrors  uint64
	LastSavedAt time.Time
}

// Options configures a Store.
type Options struct {
	Backend          Backend
	AutosaveInterval time.Duration
	Logger           Logger
}

// Store is the in-memory device database.
//
// All public methods are safe for concurrent use.
type Store struct {
	backend Backend
	logger  Logger
	onSave  func(SaveResult)

	mu          sync.Mutex
	devices     []*Device
	dirty       bool // collection-level changes (add, remove, first run)
	state       State
	saving      bool
	saveDone    chan struct{} // closed when the in-flight write completes
	closed      bool
	saves       uint64
	saveErrors  uint64
	lastSavedAt time.Time

	loaded    chan struct{}
	startOnce sync.Once
	autosave  *autosave
}

// NewStore creates a store in StateLoading. Call Start to load it.
func NewStore(opts Options) *Store {
	if opts.Backend == nil {
		opts.Backend = NewFileBackend("")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	s := &Store{
		backend: opts.Backend,
		logger:  opts.Logger,
		state:   StateLoading,
		loaded:  make(chan struct{}),
	}
	s.autosave = newAutosave(opts.AutosaveInterval, s.autosaveTick)
	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnSave registers a callback invoked after every completed write.
// Set it before the first write can happen.
func (s *Store) SetOnSave(fn func(SaveResult)) {
	s.onSave = fn
}

// Start begins the asynchronous load and arms the autosave timer.
// Calling Start more than once has no effect.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.autosave.start()
		go s.load(ctx)
	})
}

// WaitLoaded blocks until the initial load has finished, whatever its
// outcome, or ctx is done.
func (s *Store) WaitLoaded(ctx context.Context) error {
	select {
	case <-s.loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the autosave timer and waits for an in-flight write. It does
// not save pending changes; call Flush first.
func (s *Store) Close() {
	s.autosave.stop()

	s.mu.Lock()
	s.closed = true
	done := s.saveDone
	saving := s.saving
	s.mu.Unlock()

	if saving {
		<-done
	}
}

func (s *Store) load(ctx context.Context) {
	defer close(s.loaded)

	loc := s.backend.Location()
	s.logger.Info("loading devices database", "location", loc)

	data, err := s.backend.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("devices database not found, starting empty", "location", loc)
		s.devices = nil
		s.dirty = true
		s.state = StateReady
		return
	case err != nil:
		s.logger.Error("failed to load devices database", "location", loc, "error", err)
		s.state = StateUnavailable
		return
	}

	docs, err := Decode(data)
	if err != nil {
		s.logger.Error("failed to decode devices database", "location", loc, "error", err)
		s.state = StateUnavailable
		return
	}

	s.devices = s.restoreLocked(docs)
	s.dirty = false
	s.state = StateReady
	s.logger.Info("devices database loaded", "location", loc, "count", len(s.devices))
}

// restoreLocked turns decoded documents into records. Documents without an
// id get one from the running maximum, after every explicit id is known,
// so allocated ids never collide with ones later in the document.
func (s *Store) restoreLocked(docs []Document) []*Device {
	var maxID int64
	for _, doc := range docs {
		if doc.ID > maxID {
			maxID = doc.ID
		}
	}

	devices := make([]*Device, 0, len(docs))
	for _, doc := range docs {
		var id int64
		if doc.ID == 0 {
			maxID++
			id = maxID
		}
		devices = append(devices, restore(doc, id))
	}
	return devices
}

func (s *Store) readGuardLocked() error {
	if s.state == StateUnavailable {
		return ErrUnavailable
	}
	return nil
}

func (s *Store) writeGuardLocked() error {
	switch s.state {
	case StateLoading:
		return ErrLoading
	case StateUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// nextIDLocked returns one more than the highest resident id.
func (s *Store) nextIDLocked() int64 {
	var maxID int64
	for _, d := range s.devices {
		if d.id > maxID {
			maxID = d.id
		}
	}
	return maxID + 1
}

func (s *Store) findLocked(id int64) (int, *Device) {
	for i, d := range s.devices {
		if d.id == id {
			return i, d
		}
	}
	return -1, nil
}

// AddDevice creates a device with the next free id and returns it.
func (s *Store) AddDevice(name string, nodeID NodeID) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeGuardLocked(); err != nil {
		return Device{}, err
	}

	d := &Device{id: s.nextIDLocked()}
	d.SetName(name)
	d.SetNodeID(nodeID)
	s.devices = append(s.devices, d)
	s.dirty = true

	s.logger.Debug("device added", "id", d.id, "name", d.name, "node_id", d.nodeID)
	return *d, nil
}

// RemoveDevice removes the device with the given id. It reports whether a
// device was removed. The collection is marked modified either way.
func (s *Store) RemoveDevice(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeGuardLocked(); err != nil {
		return false, err
	}

	s.dirty = true
	i, _ := s.findLocked(id)
	if i < 0 {
		return false, nil
	}
	s.devices = append(s.devices[:i], s.devices[i+1:]...)

	s.logger.Debug("device removed", "id", id)
	return true, nil
}

// GetDevice returns a snapshot of the device with the given id.
// While loading it finds nothing.
func (s *Store) GetDevice(id int64) (Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readGuardLocked(); err != nil {
		return Device{}, false, err
	}
	_, d := s.findLocked(id)
	if d == nil {
		return Device{}, false, nil
	}
	return *d, true, nil
}

// ListDevices returns snapshots of all devices in insertion order.
func (s *Store) ListDevices() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readGuardLocked(); err != nil {
		return nil, err
	}
	out := make([]Device, len(s.devices))
	for i, d := range s.devices {
		out[i] = *d
	}
	return out, nil
}

// RenameDevice sets the name of a device. It reports whether the device
// exists.
func (s *Store) RenameDevice(id int64, name string) (bool, error) {
	return s.update(id, func(d *Device) { d.SetName(name) })
}

// SetDeviceNodeID points a device at another node. It reports whether the
// device exists.
func (s *Store) SetDeviceNodeID(id int64, nodeID NodeID) (bool, error) {
	return s.update(id, func(d *Device) { d.SetNodeID(nodeID) })
}

func (s *Store) update(id int64, fn func(*Device)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeGuardLocked(); err != nil {
		return false, err
	}
	_, d := s.findLocked(id)
	if d == nil {
		return false, nil
	}
	fn(d)
	return true, nil
}

// IsDirty reports whether anything changed since the last write.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDirtyLocked()
}

func (s *Store) isDirtyLocked() bool {
	if s.dirty {
		return true
	}
	for _, d := range s.devices {
		if d.modified {
			return true
		}
	}
	return false
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a summary of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:       s.state,
		Devices:     len(s.devices),
		Dirty:       s.isDirtyLocked(),
		Saving:      s.saving,
		Saves:       s.saves,
		SaveErrors:  s.saveErrors,
		LastSavedAt: s.lastSavedAt,
	}
}

// Flush cancels the pending autosave tick, writes the collection now if it
// is dirty and re-arms the timer. If a write is already in flight, Flush
// waits for it before checking.
//
// A failed write is logged and leaves the store dirty; it is not returned.
// Flush only fails when ctx is done or the store is closed.
func (s *Store) Flush(ctx context.Context) error {
	return s.autosave.flush(func() error {
		if err := s.waitSave(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}
		s.save(ctx)
		return nil
	})
}

func (s *Store) autosaveTick() {
	s.save(context.Background())
}

func (s *Store) waitSave(ctx context.Context) error {
	for {
		s.mu.Lock()
		saving, done := s.saving, s.saveDone
		s.mu.Unlock()
		if !saving {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// beginSave marks everything clean and encodes the snapshot in one critical
// section. ok is false when there is nothing to write.
func (s *Store) beginSave() (data []byte, count int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady || s.saving || !s.isDirtyLocked() {
		return nil, 0, false
	}

	docs := make([]Document, len(s.devices))
	for i, d := range s.devices {
		docs[i] = d.Document()
	}
	data, err := Encode(docs)
	if err != nil {
		s.logger.Error("failed to encode devices database", "error", err)
		return nil, 0, false
	}

	s.dirty = false
	for _, d := range s.devices {
		d.MarkClean()
	}
	s.saving = true
	s.saveDone = make(chan struct{})
	return data, len(docs), true
}

// save runs one check-and-write cycle.
func (s *Store) save(ctx context.Context) {
	data, count, ok := s.beginSave()
	if !ok {
		return
	}

	loc := s.backend.Location()
	s.logger.Debug("saving devices database", "location", loc, "count", count)

	start := time.Now()
	err := s.backend.Store(ctx, data)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.dirty = true
		s.saveErrors++
	} else {
		s.saves++
		s.lastSavedAt = time.Now()
	}
	close(s.saveDone)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to save devices database", "location", loc, "error", err)
	} else {
		s.logger.Debug("devices database saved", "location", loc, "count", count, "duration", elapsed)
	}

	if s.onSave != nil {
		s.onSave(SaveResult{Devices: count, Bytes: len(data), Duration: elapsed, Err: err})
	}
}
