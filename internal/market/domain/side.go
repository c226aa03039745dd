package domain

import "errors"

// ErrUnknownSide is returned when parsing an unrecognized side string.
var ErrUnknownSide = errors.New("unknown market side")

// Side distinguishes the two halves of the market.
type Side int

const (
	// SideDemand is a requestor looking to buy compute.
	SideDemand Side = iota
	// SideOffer is a provider looking to sell compute.
	SideOffer
)

func (s Side) String() string {
	switch s {
	case SideDemand:
		return "demand"
	case SideOffer:
		return "offer"
	default:
		return "unknown"
	}
}

// Opposite returns the matching side of the market.
func (s Side) Opposite() Side {
	if s == SideDemand {
		return SideOffer
	}
	return SideDemand
}

// ParseSide converts a string to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "demand":
		return SideDemand, nil
	case "offer":
		return SideOffer, nil
	default:
		return SideDemand, ErrUnknownSide
	}
}
