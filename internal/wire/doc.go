// Package wire defines the message envelope exchanged with the governance
// event gateway and the codec that validates it.
//
// Every frame is a JSON text message:
//
//	{"type": string, "payload": any, "channel"?: string, "timestamp": string}
//
// Five type values are reserved for the protocol itself: ping, pong,
// subscribe, unsubscribe, authenticate. Every other type is an application
// event whose payload stays opaque to this module; consumers decide what the
// bytes mean.
package wire
