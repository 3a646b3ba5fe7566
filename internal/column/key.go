// Package column implements the canonical sensor column naming grammar.
//
//	raw:     {quantity}_{depth}_raw_{strip}_{position}
//	ratio:   {quantity}_{depth}_ratio_{stripA}_{stripB}_{position}
//	plain:   {quantity}_{strip}_{position}
//
// Business logic works on Key values; strings are only produced and parsed
// at table boundaries.
package column

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognized is returned by Parse for names outside the grammar.
var ErrUnrecognized = errors.New("unrecognized column name")

// Kind is the computation kind encoded in a column name.
type Kind string

const (
	KindRaw   Kind = "raw"
	KindRatio Kind = "ratio"
	// KindPlain columns carry no depth or kind segment (battery voltage).
	KindPlain Kind = ""
)

// Key is the structured form of a sensor column name.
type Key struct {
	Quantity string
	Depth    string // "1".."3", empty for plain columns
	Kind     Kind
	Strip    string // S1..S4; numerator strip for ratios
	StripB   string // denominator strip, ratios only
	Position string // T, M, B
}

// Raw returns the key of a raw per-depth reading.
func Raw(quantity, depth, strip, position string) Key {
	return Key{Quantity: quantity, Depth: depth, Kind: KindRaw, Strip: strip, Position: position}
}

// Ratio returns the key of a strip-to-strip ratio.
func Ratio(quantity, depth, stripA, stripB, position string) Key {
	return Key{Quantity: quantity, Depth: depth, Kind: KindRatio, Strip: stripA, StripB: stripB, Position: position}
}

// Plain returns the key of a column without depth or kind.
func Plain(quantity, strip, position string) Key {
	return Key{Quantity: quantity, Kind: KindPlain, Strip: strip, Position: position}
}

// String serializes the key to its column name.
func (k Key) String() string {
	switch k.Kind {
	case KindRaw:
		return strings.Join([]string{k.Quantity, k.Depth, string(KindRaw), k.Strip, k.Position}, "_")
	case KindRatio:
		return strings.Join([]string{k.Quantity, k.Depth, string(KindRatio), k.Strip, k.StripB, k.Position}, "_")
	default:
		return strings.Join([]string{k.Quantity, k.Strip, k.Position}, "_")
	}
}

// Parse converts a column name back into a Key.
//
// Quantities never contain underscores in this grammar, so the segment count
// decides the shape. Weather columns such as temp_air_degC fail to parse and
// are treated as opaque by callers.
func Parse(name string) (Key, error) {
	parts := strings.Split(name, "_")
	switch len(parts) {
	case 3:
		if isStrip(parts[1]) && isPosition(parts[2]) && parts[0] != "" {
			return Plain(parts[0], parts[1], parts[2]), nil
		}
	case 5:
		if parts[2] == string(KindRaw) && parts[0] != "" && isDepth(parts[1]) &&
			isStrip(parts[3]) && isPosition(parts[4]) {
			return Raw(parts[0], parts[1], parts[3], parts[4]), nil
		}
	case 6:
		if parts[2] == string(KindRatio) && parts[0] != "" && isDepth(parts[1]) &&
			isStrip(parts[3]) && isStrip(parts[4]) && isPosition(parts[5]) {
			return Ratio(parts[0], parts[1], parts[3], parts[4], parts[5]), nil
		}
	}
	return Key{}, fmt.Errorf("%w: %q", ErrUnrecognized, name)
}

// SplitLogger splits a logger name such as "S1T" into strip and position.
func SplitLogger(logger string) (strip, position string, err error) {
	if len(logger) != 3 || !isStrip(logger[:2]) || !isPosition(logger[2:]) {
		return "", "", fmt.Errorf("invalid logger name %q", logger)
	}
	return logger[:2], logger[2:], nil
}

func isStrip(s string) bool {
	return len(s) == 2 && s[0] == 'S' && s[1] >= '1' && s[1] <= '9'
}

func isPosition(s string) bool {
	return s == "T" || s == "M" || s == "B"
}

func isDepth(s string) bool {
	return len(s) == 1 && s[0] >= '1' && s[0] <= '9'
}
