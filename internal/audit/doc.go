// Package audit fans security events out to optional sinks.
//
// The durable record of every event lives in the credential store; this
// package only relays a copy, asynchronously, to things like a JSON lines
// file, a rotating file, a zap logger or a test channel.
//
//   - [Sink] is the consumer interface.
//   - [Dispatcher] is a buffered relay with drop-if-full or block-if-full
//     semantics.
//
// The package does not decide which events to emit and must not import the
// root hostauth package.
package audit
