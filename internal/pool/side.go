package pool

import (
	"fmt"
	"strings"
)

// Side is one half of the pool.
type Side uint8

const (
	Long Side = iota
	Short
)

// Sides lists both sides in a stable order.
var Sides = [2]Side{Long, Short}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

func (s Side) Valid() bool {
	return s == Long || s == Short
}

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// ParseSide accepts "LONG"/"SHORT" in any case, and "0"/"1".
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LONG", "0":
		return Long, nil
	case "SHORT", "1":
		return Short, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Position is the side the protocol counterparty currently sits on.
// The zero value is PositionNone.
type Position uint8

const (
	PositionNone Position = iota
	PositionLong
	PositionShort
)

func positionOf(s Side) Position {
	if s == Long {
		return PositionLong
	}
	return PositionShort
}

func (p Position) String() string {
	switch p {
	case PositionLong:
		return "LONG"
	case PositionShort:
		return "SHORT"
	default:
		return "NONE"
	}
}

func (p Position) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
