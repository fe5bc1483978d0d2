package device

// NodeID identifies the Z-Wave node that implements a device. The store
// treats it as an opaque number.
type NodeID int

// Device is one entry in the device database.
//
// Values returned by the Store are snapshots. Changing a snapshot with
// SetName or SetNodeID does not change the stored record; use
// Store.RenameDevice and Store.SetDeviceNodeID instead.
type Device struct {
	id       int64
	name     string
	nodeID   NodeID
	modified bool
}

// ID returns the device id. It never changes once assigned.
func (d *Device) ID() int64 { return d.id }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// NodeID returns the Z-Wave node this device maps to.
func (d *Device) NodeID() NodeID { return d.nodeID }

// Modified reports whether the record changed since it was last persisted.
func (d *Device) Modified() bool { return d.modified }

// SetName updates the display name. It reports whether the name changed;
// an unchanged name leaves the record clean.
func (d *Device) SetName(name string) bool {
	if d.name == name {
		return false
	}
	d.name = name
	d.modified = true
	return true
}

// SetNodeID updates the node reference. It reports whether it changed.
func (d *Device) SetNodeID(nodeID NodeID) bool {
	if d.nodeID == nodeID {
		return false
	}
	d.nodeID = nodeID
	d.modified = true
	return true
}

// MarkClean clears the modified flag.
func (d *Device) MarkClean() { d.modified = false }

// Document returns the persisted form of the record.
func (d *Device) Document() Document {
	return Document{ID: d.id, Name: d.name, NodeID: d.nodeID}
}

// restore builds a clean record from a document. id is used when the
// document carries none.
func restore(doc Document, id int64) *Device {
	if doc.ID != 0 {
		id = doc.ID
	}
	return &Device{id: id, name: doc.Name, nodeID: doc.NodeID}
}
