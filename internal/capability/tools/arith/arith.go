// Package arith provides exact integer arithmetic capabilities:
//   - "adder"      returns a + b.
//   - "multiplier" returns a * b.
//
// Results that would overflow a 64-bit integer are reported as errors rather
// than wrapped silently.
package arith

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/MrWong99/arbiter/internal/capability"
)

// ErrOverflow is returned when a result does not fit in a 64-bit integer.
var ErrOverflow = errors.New("arith: result overflows a 64-bit integer")

// pairArgs is the input of both capabilities.
type pairArgs struct {
	A int64 `json:"a" jsonschema:"description=First integer operand"`
	B int64 `json:"b" jsonschema:"description=Second integer operand"`
}

// Capabilities returns the arithmetic capabilities.
func Capabilities() []capability.Capability {
	return []capability.Capability{
		capability.New("multiplier",
			"Performs product calculations. Use this for calculating products. input -> int, int : output -> int",
			func(_ context.Context, args pairArgs) (string, error) {
				p, err := Multiply(args.A, args.B)
				if err != nil {
					return "", err
				}
				return strconv.FormatInt(p, 10), nil
			}),
		capability.New("adder",
			"Performs sum calculations. Use this for calculating sum. input -> int, int : output -> int",
			func(_ context.Context, args pairArgs) (string, error) {
				s, err := Add(args.A, args.B)
				if err != nil {
					return "", err
				}
				return strconv.FormatInt(s, 10), nil
			}),
	}
}

// Add returns a + b.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Multiply returns a * b.
func Multiply(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrOverflow
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}
