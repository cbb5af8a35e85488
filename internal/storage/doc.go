// Package storage keeps the records of consensus runs submitted to the
// coordinator's HTTP service.
//
// # Overview
//
// Every POST /runs creates a Run in the store before the run starts and
// updates it once the run succeeds or fails. Readers always get copies, so a
// record handed to an HTTP handler never aliases the stored one.
//
//	┌─────────────────────────────────────┐
//	│          HTTP handlers              │
//	│   POST /runs   GET /runs[/{id}]     │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store interface            │
//	│  Create Get Update Delete List      │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│   MemoryStore (map + RWMutex)       │
//	└─────────────────────────────────────┘
//
// # Run Lifecycle
//
//	running ──► succeeded   (averages, rounds, elapsed set)
//	   │
//	   └──────► failed      (error set, no averages)
//
// # Thread Safety
//
// MemoryStore uses a sync.RWMutex: Get, List and Stats take the read lock;
// Create, Update and Delete take the write lock. Update runs its callback
// under the write lock on a private copy, so callbacks must not call back
// into the store.
//
// # Limitations
//
// Records live in memory only and are lost on restart. There is no
// eviction; long-running services should Delete finished runs they no
// longer need.
package storage
