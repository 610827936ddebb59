package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// RoomIDLength is the fixed width of a room identifier in bytes
	RoomIDLength = 32
	// AddressLength is the fixed width of an account identifier in bytes
	AddressLength = 20
)

// RoomID is the fixed-width identifier of a chat room
type RoomID [RoomIDLength]byte

// Address is the fixed-width identifier of an account
type Address [AddressLength]byte

// ZeroAddress is the all-zero account identifier
var ZeroAddress Address

// RoomIDFromName encodes the UTF-8 bytes of a room name into a RoomID,
// right-padded with zeros.
func RoomIDFromName(name string) (RoomID, error) {
	var id RoomID
	if len(name) > RoomIDLength {
		return id, fmt.Errorf("%w: %d bytes", ErrRoomNameTooLong, len(name))
	}
	copy(id[:], name)
	return id, nil
}

// ParseRoomID parses a 0x-prefixed (or bare) hex string, case-insensitively
func ParseRoomID(s string) (RoomID, error) {
	var id RoomID
	if err := decodeFixedHex(s, id[:]); err != nil {
		return id, fmt.Errorf("invalid room id %q: %w", s, err)
	}
	return id, nil
}

// Hex returns the lower-case 0x-prefixed hex form
func (r RoomID) Hex() string {
	return "0x" + hex.EncodeToString(r[:])
}

// String implements fmt.Stringer
func (r RoomID) String() string {
	return r.Hex()
}

// Name returns the room name with trailing zero padding removed
func (r RoomID) Name() string {
	return strings.TrimRight(string(r[:]), "\x00")
}

// MarshalText implements encoding.TextMarshaler
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *RoomID) UnmarshalText(text []byte) error {
	id, err := ParseRoomID(string(text))
	if err != nil {
		return err
	}
	*r = id
	return nil
}

// ParseAddress parses a 0x-prefixed (or bare) hex account identifier
func ParseAddress(s string) (Address, error) {
	var addr Address
	if err := decodeFixedHex(s, addr[:]); err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// Hex returns the lower-case 0x-prefixed hex form
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer
func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether a is the all-zero address
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

func decodeFixedHex(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != len(dst)*2 {
		return fmt.Errorf("expected %d hex characters, got %d", len(dst)*2, len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}
