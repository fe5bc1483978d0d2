package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the persisted form of a Device. Field names match the
// devices.json files written by earlier HomeNet releases.
type Document struct {
	ID     int64  `json:"ID"`
	Name   string `json:"Name"`
	NodeID NodeID `json:"NodeID"`
}

// file is the top level of the backing document.
type file struct {
	Devices []Document `json:"Devices"`
}

// entry is the strict decoding shape of one device. ID is optional (legacy
// documents omit it); the other fields must be present.
type entry struct {
	ID     *int64  `json:"ID"`
	Name   *string `json:"Name"`
	NodeID *NodeID `json:"NodeID"`
}

// Encode serialises the ordered device documents.
func Encode(docs []Document) ([]byte, error) {
	if docs == nil {
		docs = []Document{}
	}
	data, err := json.Marshal(file{Devices: docs})
	if err != nil {
		return nil, fmt.Errorf("encoding devices: %w", err)
	}
	return data, nil
}

// Decode parses a backing document.
//
// A missing, null or non-array Devices field yields an empty collection.
// Anything that is not a JSON object at the top level, and any entry that
// does not match the device shape exactly, fails with ErrDecode.
// Documents without an id are returned with ID 0.
func Decode(data []byte) ([]Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: top level is not an object", ErrDecode)
	}

	raw, ok := top["Devices"]
	if !ok {
		return []Document{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return []Document{}, nil //nolint:nilerr // malformed container is treated as empty
	}

	docs := make([]Document, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for i, e := range entries {
		doc, err := decodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("%w: device %d: %w", ErrDecode, i, err)
		}
		if doc.ID != 0 {
			if _, dup := seen[doc.ID]; dup {
				return nil, fmt.Errorf("%w: device %d: duplicate id %d", ErrDecode, i, doc.ID)
			}
			seen[doc.ID] = struct{}{}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeEntry(data json.RawMessage) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var e entry
	if err := dec.Decode(&e); err != nil {
		return Document{}, err
	}
	if e.Name == nil {
		return Document{}, fmt.Errorf("missing Name")
	}
	if e.NodeID == nil {
		return Document{}, fmt.Errorf("missing NodeID")
	}

	doc := Document{Name: *e.Name, NodeID: *e.NodeID}
	if e.ID != nil {
		if *e.ID < 0 {
			return Document{}, fmt.Errorf("negative ID %d", *e.ID)
		}
		doc.ID = *e.ID
	}
	return doc, nil
}
