// Package protocol implements the line-delimited wire format shared by
// clients, the balancer, backends and the health prober.
//
// Every message is a compact JSON object terminated by a single '\n'.
// A frame cut short by the peer reads as ErrNoMessage and a payload that is
// not a JSON object reads as ErrDecode; callers treat both as the end of the
// conversation.
package protocol
