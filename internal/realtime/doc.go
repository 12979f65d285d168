// Package realtime maintains the persistent connection to the governance
// event gateway.
//
// A Session owns one logical connection and everything attached to it: the
// lifecycle state machine, the reconnection backoff schedule, ping/pong
// liveness monitoring, an outbound queue for messages composed while the
// transport is down, and the subscription registry that fans validated
// events out to consumer callbacks.
//
// Consumers drive a Session through Connect, Disconnect, Reconnect, Send,
// Subscribe and Unsubscribe, and observe it through State, LastError, Stats,
// and StateChanges. No call blocks on network progress.
package realtime
