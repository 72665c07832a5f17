package tcpserver_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/compute-balancer/internal/tcpserver"
)

// lineEcho writes every received line back until the peer or ctx closes.
type lineEcho struct {
	active atomic.Int32
}

func (e *lineEcho) ServeConn(ctx context.Context, conn net.Conn) {
	e.active.Add(1)
	defer e.active.Add(-1)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		conn.Write([]byte(line))
	}
}

// exhaustedListener fails the first failures Accept calls with EMFILE.
type exhaustedListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *exhaustedListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, &net.OpError{
			Op:  "accept",
			Net: "tcp",
			Err: os.NewSyscallError("accept", syscall.EMFILE),
		}
	}
	return l.Listener.Accept()
}

var _ = Describe("TCP Server", func() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	Context("server creation", func() {
		It("accepts an ephemeral port", func() {
			srv, err := tcpserver.New("127.0.0.1:0", &lineEcho{}, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Addr()).To(BeNil())
		})

		It("rejects an invalid address", func() {
			srv, err := tcpserver.New("localhost", &lineEcho{}, log)
			Expect(err).To(HaveOccurred())
			Expect(srv).To(BeNil())
		})

		It("refuses to serve before listening", func() {
			srv, err := tcpserver.New("127.0.0.1:0", &lineEcho{}, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Serve()).To(MatchError(tcpserver.ErrNotListening))
		})
	})

	Context("server lifecycle", func() {
		var (
			handler *lineEcho
			srv     *tcpserver.Server
			served  chan error
		)

		dial := func() (net.Conn, *bufio.Reader) {
			conn, err := net.Dial("tcp", srv.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			return conn, bufio.NewReader(conn)
		}

		BeforeEach(func() {
			handler = &lineEcho{}

			var err error
			srv, err = tcpserver.New("127.0.0.1:0", handler, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen()).To(Succeed())

			served = make(chan error, 1)
			go func() {
				served <- srv.Serve()
			}()
		})

		AfterEach(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})

		It("serves clients concurrently", func() {
			first, firstReader := dial()
			defer first.Close()
			second, secondReader := dial()
			defer second.Close()

			Eventually(handler.active.Load).Should(Equal(int32(2)))

			second.Write([]byte("two\n"))
			first.Write([]byte("one\n"))

			Expect(secondReader.ReadString('\n')).To(Equal("two\n"))
			Expect(firstReader.ReadString('\n')).To(Equal("one\n"))
		})

		It("closes open connections and returns on shutdown", func() {
			conn, reader := dial()
			defer conn.Close()

			Eventually(handler.active.Load).Should(Equal(int32(1)))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(srv.Shutdown(ctx)).To(Succeed())

			Eventually(served).Should(Receive(BeNil()))
			Expect(handler.active.Load()).To(BeZero())

			conn.SetReadDeadline(time.Now().Add(time.Second))
			_, err := reader.ReadByte()
			Expect(err).To(HaveOccurred())
		})

		It("stops accepting after shutdown", func() {
			addr := srv.Addr().String()
			Expect(srv.Shutdown(context.Background())).To(Succeed())

			_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when accept fails with a resource error", func() {
		It("keeps serving once descriptors are available again", func() {
			inner, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			listener := &exhaustedListener{Listener: inner}
			listener.failures.Store(3)

			srv, err := tcpserver.New("127.0.0.1:0", &lineEcho{}, log)
			Expect(err).NotTo(HaveOccurred())

			served := make(chan error, 1)
			go func() {
				served <- srv.ServeListener(listener)
			}()
			DeferCleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			})

			conn, err := net.Dial("tcp", inner.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			conn.SetDeadline(time.Now().Add(2 * time.Second))
			_, err = conn.Write([]byte("still here\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(bufio.NewReader(conn).ReadString('\n')).To(Equal("still here\n"))

			Consistently(served, 50*time.Millisecond).ShouldNot(Receive())
			Expect(listener.failures.Load()).To(BeNumerically("<", 0))
		})

		It("returns nil when shut down while backing off", func() {
			inner, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			listener := &exhaustedListener{Listener: inner}
			listener.failures.Store(1 << 20)

			srv, err := tcpserver.New("127.0.0.1:0", &lineEcho{}, log)
			Expect(err).NotTo(HaveOccurred())

			served := make(chan error, 1)
			go func() {
				served <- srv.ServeListener(listener)
			}()

			Eventually(listener.failures.Load).Should(BeNumerically("<", 1<<20))
			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
		})
	})
})
