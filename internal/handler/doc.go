// Package handler serves one client connection: it reads request frames in a
// loop, forwards each valid request and writes the response back before
// reading the next one. A frame that cannot be decoded ends the session.
package handler
