package handler_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/compute-balancer/internal/events"
	"github.com/angeloszaimis/compute-balancer/internal/handler"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

type fakeForwarder struct {
	mutex    sync.Mutex
	requests []protocol.Request
	panics   bool
}

func (f *fakeForwarder) Forward(_ context.Context, req protocol.Request) protocol.Response {
	if f.panics {
		panic("forwarder exploded")
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.requests = append(f.requests, req)

	return protocol.Response{Response: "ok " + string(req.Operation), ServerID: "A"}
}

func (f *fakeForwarder) Requests() []protocol.Request {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]protocol.Request(nil), f.requests...)
}

var _ = Describe("ConnectionHandler", func() {
	var (
		forwarder *fakeForwarder
		recorder  *events.Recorder
		h         *handler.ConnectionHandler
		ctx       context.Context
		cancel    context.CancelFunc
		client    net.Conn
		reader    *bufio.Reader
		done      chan struct{}
	)

	start := func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer listener.Close()

		done = make(chan struct{})
		go func() {
			defer close(done)
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			h.ServeConn(ctx, conn)
		}()

		client, err = net.Dial("tcp", listener.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		reader = bufio.NewReader(client)
	}

	send := func(line string) {
		_, err := client.Write([]byte(line + "\n"))
		Expect(err).NotTo(HaveOccurred())
	}

	receive := func() protocol.Response {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		var resp protocol.Response
		Expect(protocol.NewReader(reader, 0).ReadMessage(&resp)).To(Succeed())
		return resp
	}

	expectClosed := func() {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := reader.ReadByte()
		Expect(err).To(HaveOccurred())
		Eventually(done).Should(BeClosed())
	}

	BeforeEach(func() {
		forwarder = &fakeForwarder{}
		recorder = events.NewRecorder()
		ctx, cancel = context.WithCancel(context.Background())

		h = handler.NewConnectionHandler(
			slog.New(slog.NewTextHandler(io.Discard, nil)),
			forwarder,
			recorder,
			handler.Config{
				ReadTimeout:  time.Second,
				WriteTimeout: time.Second,
				MaxFrameSize: 256,
			},
		)
	})

	AfterEach(func() {
		cancel()
		if client != nil {
			client.Close()
		}
		Eventually(done).Should(BeClosed())
	})

	It("should answer several requests on one connection in order", func() {
		start()

		send(`{"operation":"reverse","value":"abc"}`)
		Expect(receive()).To(Equal(protocol.Response{Response: "ok reverse", ServerID: "A"}))

		send(`{"operation":"prime","value":"17"}`)
		Expect(receive()).To(Equal(protocol.Response{Response: "ok prime", ServerID: "A"}))

		Expect(forwarder.Requests()).To(HaveLen(2))
		Expect(string(forwarder.Requests()[1].Value)).To(Equal(`"17"`))
	})

	DescribeTable("should reject invalid requests and keep the connection open",
		func(line, message string) {
			start()

			send(line)
			Expect(receive()).To(Equal(protocol.ErrorResponse(message)))

			send(`{"operation":"echo","data":"x"}`)
			Expect(receive().Response).To(Equal("ok echo"))

			Expect(forwarder.Requests()).To(HaveLen(1))
			Expect(recorder.Counter(events.CounterClientErrors)).To(Equal(1))
			Expect(recorder.Counter(events.CounterRequestsProcessed)).To(Equal(2))
			Expect(recorder.Logs()).To(ContainElement(HaveSuffix(": " + line)))
		},
		Entry("unknown operation", `{"operation":"divide","value":1}`, "Unknown operation: divide"),
		Entry("missing operation", `{"value":1}`, "Missing operation"),
		Entry("control frame", `{"type":"PING"}`, "Unexpected control message: PING"),
	)

	DescribeTable("should close the connection on an unreadable frame",
		func(line string) {
			start()

			send(line)
			expectClosed()
			Expect(forwarder.Requests()).To(BeEmpty())
		},
		Entry("not json", `hello`),
		Entry("truncated object", `{"operation":`),
		Entry("json array", `[1,2,3]`),
		Entry("oversized frame", `{"operation":"echo","data":"`+string(make([]byte, 300))+`"}`),
	)

	It("should end the session when the peer disconnects", func() {
		start()

		send(`{"operation":"echo","data":"x"}`)
		receive()
		client.Close()

		Eventually(done).Should(BeClosed())
		Expect(recorder.Logs()).To(ContainElement(HavePrefix("Client disconnected from ")))
	})

	It("should drop an idle client after the read timeout", func() {
		h = handler.NewConnectionHandler(
			slog.New(slog.NewTextHandler(io.Discard, nil)),
			forwarder, recorder,
			handler.Config{ReadTimeout: 100 * time.Millisecond},
		)
		start()

		expectClosed()
	})

	It("should close the connection when the context is cancelled", func() {
		start()

		send(`{"operation":"echo","data":"x"}`)
		receive()
		cancel()

		expectClosed()
	})

	It("should record connection and request events", func() {
		start()

		send(`{"operation":"echo","data":"x"}`)
		receive()
		client.Close()
		Eventually(done).Should(BeClosed())

		local := client.LocalAddr().String()
		Expect(recorder.Logs()).To(Equal([]string{
			"Client connected from " + local,
			`Received request from ` + local + `: {"operation":"echo","data":"x"}`,
			"Client disconnected from " + local,
		}))
		Expect(recorder.Counter(events.CounterRequestsProcessed)).To(Equal(1))
	})

	It("should survive a panic while handling a request", func() {
		forwarder.panics = true
		start()

		send(`{"operation":"echo","data":"x"}`)
		expectClosed()

		Expect(recorder.Logs()).To(ContainElement(ContainSubstring("forwarder exploded")))
	})
})
