// Package cluster provides the message protocol and the duplex channels that
// connect a consensus coordinator to its workers.
//
// # Overview
//
// Coordination is hub-and-spoke. Each worker is bound to exactly one channel
// and never talks to other workers:
//
//	                ┌──────────────┐
//	                │ Coordinator  │
//	                └──────┬───────┘
//	       ┌───────────────┼───────────────┐
//	   channel 0       channel 1       channel 2
//	┌──────▼─────┐  ┌──────▼─────┐  ┌──────▼─────┐
//	│  Worker 0  │  │  Worker 1  │  │  Worker 2  │
//	└────────────┘  └────────────┘  └────────────┘
//
// # Messages
//
// Report: worker → coordinator, after every local solve
//   - Status of the solve
//   - Local values of the worker's variables
//   - Updated duals, when the coordinator owns them
//
// Broadcast: coordinator → worker
//   - Consensus averages and the round index
//   - The worker's own duals, when the coordinator owns them
//
// Hello: remote worker → coordinator, once, right after connecting
//   - Worker name and declared variables
//
// # Channels
//
// Two transports implement CoordinatorConn and WorkerConn:
//
// Pipe: in-process, one goroutine per worker
//   - Buffered to exactly one pending message per direction
//   - Messages deep-copied on send, no shared memory
//   - Close on either end releases both sides with ErrClosed
//
// Websocket (AcceptWorker, DialWorker): one process per worker
//   - JSON text frames, same message shapes as Pipe
//   - Context deadlines map onto read/write deadlines
//   - Peer close surfaces as ErrClosed
//
// The worker and coordinator loops are written against the interfaces only,
// so the same code runs in both topologies.
//
// # HTTP helpers
//
// PostJSON and GetJSON are small JSON-over-HTTP helpers used by the command
// line client to talk to the coordinator service. Non-2xx answers come back
// as *StatusError carrying the server's error text.
package cluster
