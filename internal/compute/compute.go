package compute

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

// MaxFibonacci bounds the fibonacci index so a single request stays cheap.
const MaxFibonacci = 10000

// Process computes the response for req. Operation failures are reported in
// the Error field; Process itself never fails.
func Process(req protocol.Request) protocol.Response {
	switch req.Operation {
	case protocol.OpFibonacci:
		n, err := intValue(req.Value)
		if err != nil || n < 0 || n > MaxFibonacci {
			return protocol.ErrorResponse("Invalid input for Fibonacci. Please enter a non-negative integer.")
		}
		return protocol.Response{Response: fmt.Sprintf("Fibonacci of %d is %s", n, fibonacci(n))}

	case protocol.OpPrime:
		n, err := intValue(req.Value)
		if err != nil {
			return protocol.ErrorResponse("Invalid input for Prime Checker. Please enter a valid integer.")
		}
		if isPrime(n) {
			return protocol.Response{Response: fmt.Sprintf("%d is a prime number.", n)}
		}
		return protocol.Response{Response: fmt.Sprintf("%d is not a prime number.", n)}

	case protocol.OpReverse:
		s, ok := stringValue(req.Value)
		if !ok {
			return protocol.ErrorResponse("No input provided for string reversal.")
		}
		return protocol.Response{Response: "Reversed string: " + reverse(s)}

	case protocol.OpPalindrome:
		s, ok := stringValue(req.Value)
		if !ok {
			return protocol.ErrorResponse("No input provided for palindrome check.")
		}
		if s == reverse(s) {
			return protocol.Response{Response: fmt.Sprintf("'%s' is a palindrome.", s)}
		}
		return protocol.Response{Response: fmt.Sprintf("'%s' is not a palindrome.", s)}

	case protocol.OpWordCount:
		s, ok := stringValue(req.Value)
		if !ok {
			return protocol.ErrorResponse("No input provided for word count.")
		}
		return protocol.Response{Response: fmt.Sprintf("Word count: %d", len(strings.Fields(s)))}

	case protocol.OpEcho:
		s, ok := stringValue(req.Data)
		if !ok {
			return protocol.ErrorResponse("No data provided for echo.")
		}
		return protocol.Response{Response: "Echo: " + s}

	case protocol.OpSquare:
		v, err := floatValue(req.Value)
		if err != nil {
			return protocol.ErrorResponse("Invalid input for Square. Please enter a number.")
		}
		return protocol.Response{Response: "Square is " + formatFloat(v*v)}

	default:
		return protocol.ErrorResponse("Unknown operation")
	}
}

func fibonacci(n int64) string {
	a, b := big.NewInt(0), big.NewInt(1)
	for i := int64(0); i < n; i++ {
		a.Add(a, b)
		a, b = b, a
	}
	return a.String()
}

func isPrime(n int64) bool {
	if n < 2 {
		return false
	}
	// Baillie-PSW is exact below 2^64.
	return big.NewInt(n).ProbablyPrime(0)
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// stringValue accepts a JSON string, or any other JSON literal as its text.
func stringValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	return string(raw), true
}

func intValue(raw json.RawMessage) (int64, error) {
	s, ok := stringValue(raw)
	if !ok {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func floatValue(raw json.RawMessage) (float64, error) {
	s, ok := stringValue(raw)
	if !ok {
		return 0, fmt.Errorf("missing value")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("value out of range")
	}
	return v, nil
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
