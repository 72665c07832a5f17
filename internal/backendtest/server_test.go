package backendtest_test

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/compute-balancer/internal/backendtest"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

// failingListener fails every Accept until it is closed.
type failingListener struct {
	net.Listener
	accepts atomic.Int64
	closed  atomic.Bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.accepts.Add(1)
	if l.closed.Load() {
		return nil, net.ErrClosed
	}
	return nil, errors.New("accept: too many open files")
}

func (l *failingListener) Close() error {
	l.closed.Store(true)
	return l.Listener.Close()
}

var _ = Describe("Server", func() {
	It("should answer PING and compute requests", func() {
		server, err := backendtest.NewServer("A")
		Expect(err).NotTo(HaveOccurred())
		defer server.Close()

		exchange := func(msg any, reply any) {
			conn, err := net.Dial("tcp", server.Address())
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Expect(protocol.WriteMessage(conn, msg)).To(Succeed())
			Expect(protocol.NewReader(conn, 0).ReadMessage(reply)).To(Succeed())
		}

		var pong protocol.Control
		exchange(protocol.Ping, &pong)
		Expect(pong.IsPong()).To(BeTrue())

		var resp protocol.Response
		exchange(protocol.Request{Operation: protocol.OpSquare, Value: []byte("3")}, &resp)
		Expect(resp).To(Equal(protocol.Response{Response: "Square is 9.0", ServerID: "A"}))

		Expect(server.Pings()).To(Equal(int64(1)))
		Expect(server.Requests()).To(HaveLen(1))
	})

	It("should pause between failed accepts", func() {
		inner, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		listener := &failingListener{Listener: inner}
		server := backendtest.NewServerOn("A", listener)

		time.Sleep(100 * time.Millisecond)
		server.Close()

		Expect(listener.accepts.Load()).To(BeNumerically("<=", 20))
	})
})
