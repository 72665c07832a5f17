// Package netaddr validates host:port addresses used for listening and dialing.
package netaddr

import (
	"net"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var (
	// HostPort accepts "host:port" addresses that can be dialed: the port
	// must be numeric and within 1-65535.
	HostPort = validation.By(hostPort(1))
	// Listen also accepts port 0, which asks the kernel for a free port.
	// An empty host listens on all interfaces.
	Listen = validation.By(hostPort(0))
)

// Validate checks a dial address.
func Validate(addr string) error {
	return validation.Validate(addr, validation.Required, HostPort)
}

// ValidateListen checks a listen address.
func ValidateListen(addr string) error {
	return validation.Validate(addr, validation.Required, Listen)
}

func hostPort(minPort int) validation.RuleFunc {
	return func(value interface{}) error {
		return validateHostPort(value, minPort)
	}
}

func validateHostPort(value interface{}, minPort int) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cant be empty")
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < minPort || n > 65535 {
		return validation.NewError("validation_invalid_port", "port out of range")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
