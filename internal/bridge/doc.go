// Package bridge republishes the governance event stream over Redis
// pub/sub so other platform processes can consume it without holding
// their own gateway connection.
//
// Delivery is fire-and-forget: a full buffer or a publish error drops the
// event and bumps a counter. The journal is the durable record; the
// bridge is the live feed.
package bridge
