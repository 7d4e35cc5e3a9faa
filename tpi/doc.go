// Package tpi implements the core wire protocol of the TPI (third-party interface)
// exposed by DALI lighting controllers over UDP.
//
// It provides command-frame building and response-frame validation with the protocol's
// XOR checksum, the closed response-code and event-code enumerations, the
// Controller/Address/Instance value types, event-frame decoding, and the EventMode and
// EventMask wire representations.
//
// The request/response engine and the event listener built on these primitives live in
// the tpiudp package.
package tpi
