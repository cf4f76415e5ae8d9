package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"teamer/datamodel/peer"
)

// The first generation of the protocol sent states as "name|x|y|server|mass" in UTF-8.
// It is still accepted on receive and can be selected for sending.

const legacySeparator = "|"

var ErrInvalidLegacy = errors.New("invalid legacy state")

func EncodeLegacy(s peer.State) []byte {
	return []byte(strings.Join([]string{
		s.Name,
		strconv.FormatFloat(float64(s.X), 'f', -1, 32),
		strconv.FormatFloat(float64(s.Y), 'f', -1, 32),
		s.Token,
		strconv.FormatUint(uint64(s.Mass), 10),
	}, legacySeparator))
}

func DecodeLegacy(b []byte) (peer.State, error) {
	if !utf8.Valid(b) {
		return peer.State{}, fmt.Errorf("%w: not UTF-8", ErrInvalidLegacy)
	}
	fields := strings.Split(string(b), legacySeparator)
	if len(fields) != 5 {
		return peer.State{}, fmt.Errorf("%w: %d fields", ErrInvalidLegacy, len(fields))
	}

	x, err := strconv.ParseFloat(fields[1], 32)
	if err != nil {
		return peer.State{}, fmt.Errorf("%w: x: %v", ErrInvalidLegacy, err)
	}
	y, err := strconv.ParseFloat(fields[2], 32)
	if err != nil {
		return peer.State{}, fmt.Errorf("%w: y: %v", ErrInvalidLegacy, err)
	}
	// Old clients sent mass as a float
	mass, err := strconv.ParseFloat(fields[4], 64)
	if err != nil || mass < 0 || mass > math.MaxUint32 || math.IsNaN(mass) {
		return peer.State{}, fmt.Errorf("%w: mass %q", ErrInvalidLegacy, fields[4])
	}

	return peer.State{
		Name:  fields[0],
		X:     float32(x),
		Y:     float32(y),
		Token: fields[3],
		Mass:  uint32(math.Round(mass)),
	}, nil
}
