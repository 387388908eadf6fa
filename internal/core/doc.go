// Package core implements the coordination engine of the presence server.
//
// Two concurrent registries hold all shared state: the user directory
// (Presence) and the group directory (GroupDirectory). Messenger and
// GroupCoordinator sit on top of them and implement direct chat, the file
// transfer rendezvous and multicast group messaging. Every business
// operation reports its outcome as a Code; transport concerns such as
// encoding replies or pushing bytes to sockets live behind the interfaces
// declared in channels.go.
//
// Mutations are per-key atomic updates on sharded maps. Operations touching
// two keys update them one after the other, never as one transaction, and a
// shard lock of the user map is never held while a group shard is locked.
package core
