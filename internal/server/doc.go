// Package server exposes the presence core over the network.
//
// Every client holds three websocket streams: a request stream answered one
// envelope at a time, a chat stream carrying direct messages and file
// signalling, and a notification stream for friend and status pushes. Group
// messages arrive as UDP datagrams and leave over multicast. The hub owns the
// websocket connections and closes them on shutdown; closing a request
// stream takes its user offline.
package server
