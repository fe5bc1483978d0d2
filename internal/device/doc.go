// Package device provides the device database for HomeNet.
//
// The device database maps user-facing devices (a name and a numeric id) to
// the Z-Wave node that implements them. It is held in memory, loaded once
// from a JSON backing file at startup and written back periodically when
// something has changed.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────┐
//	│                           Store                                │
//	│                                                                │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────────┐    │
//	│  │   Devices    │   │   autosave   │   │      Codec       │    │
//	│  │ (device.go)  │   │(autosave.go) │   │    (codec.go)    │    │
//	│  │              │   │              │   │                  │    │
//	│  │ • id / name  │   │ • one timer  │   │ • {"Devices":[]} │    │
//	│  │ • node id    │   │ • generation │   │ • strict entries │    │
//	│  │ • modified   │   │ • flush      │   │                  │    │
//	│  └──────────────┘   └──────────────┘   └──────────────────┘    │
//	│          │                                       │             │
//	└──────────│───────────────────────────────────────│─────────────┘
//	           ▼                                       ▼
//	   REST API / bridge                     Backend (backend.go)
//	                                         devices.json, atomic write
//
// # Lifecycle
//
// A Store starts in StateLoading. The asynchronous load started by Start
// moves it to StateReady (document decoded, or no file yet) or to
// StateUnavailable (read or decode failure). StateUnavailable is terminal.
//
// While loading, reads see an empty collection and writes fail with
// ErrLoading. Once unavailable, every operation fails with ErrUnavailable
// and nothing is ever written back, so a document the store could not
// understand is never overwritten.
//
// # Persistence
//
// Mutations only mark state dirty. The autosave timer (60s by default)
// writes the whole collection when it is dirty; Flush forces one cycle
// immediately and is what the process calls on shutdown. At most one write
// is in flight at a time. A failed write leaves the store dirty so the next
// cycle retries.
//
// # Usage
//
//	store := device.NewStore(device.Options{
//	    Backend: device.NewFileBackend("devices.json"),
//	    Logger:  log,
//	})
//	store.Start(ctx)
//	defer store.Close()
//
//	dev, err := store.AddDevice("Hall Light", 5)
//	if device.IsUnavailable(err) {
//	    // not ready
//	}
//
//	// On shutdown
//	_ = store.Flush(ctx)
package device
