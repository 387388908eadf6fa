// Package transfer moves file bytes directly between two peers once the
// server has brokered their rendezvous.
//
// The receiving side opens a Receiver on an ephemeral port and advertises its
// Endpoint; the sending side connects with Send and streams exactly the
// announced number of bytes. Transfers run as tasks of a Pool owned by the
// chat connection that started them.
package transfer
