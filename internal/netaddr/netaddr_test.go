package netaddr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/compute-balancer/internal/netaddr"
)

var _ = Describe("Validate", func() {
	DescribeTable("accepted addresses",
		func(addr string) {
			Expect(netaddr.Validate(addr)).To(Succeed())
		},
		Entry("hostname", "localhost:12000"),
		Entry("ipv4", "127.0.0.1:13001"),
		Entry("ipv6", "[::1]:8080"),
		Entry("port only", ":9999"),
		Entry("highest port", "localhost:65535"),
	)

	DescribeTable("rejected addresses",
		func(addr string) {
			Expect(netaddr.Validate(addr)).NotTo(Succeed())
		},
		Entry("empty", ""),
		Entry("no port", "localhost"),
		Entry("empty port", "localhost:"),
		Entry("too many colons", "invalid:host:port"),
		Entry("named port", "localhost:http"),
		Entry("port zero", "localhost:0"),
		Entry("port out of range", "localhost:70000"),
		Entry("bad host", "bad_host!:80"),
	)

	It("should accept port zero only for listen addresses", func() {
		Expect(netaddr.ValidateListen("127.0.0.1:0")).To(Succeed())
		Expect(netaddr.ValidateListen(":0")).To(Succeed())
		Expect(netaddr.Validate("127.0.0.1:0")).NotTo(Succeed())
		Expect(netaddr.ValidateListen("localhost")).NotTo(Succeed())
	})
})
