// Package tpiudp implements the TPI protocol engine over UDP: the Client, which
// correlates asynchronous response datagrams back to their originating requests via
// sequence numbers, bounds in-flight load per controller, and retries on loss; the
// typed command catalogue layered on top of it; and the Listener, which receives and
// dispatches the controllers' asynchronous event stream.
//
// A Client owns one command socket shared by all registered controllers. A Listener
// owns an independent event socket (unicast or multicast) and shares only the
// client's controller registry.
package tpiudp
