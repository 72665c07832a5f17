// Package tcpserver accepts client connections for the balancer and runs one
// goroutine per connection. Shutdown stops accepting, cancels the context
// given to every connection and waits for the handlers to return.
package tcpserver
