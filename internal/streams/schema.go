package streams

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// ChatSchema is the data schema of one chat message record
	ChatSchema = "uint64 timestamp, bytes32 roomId, string content, string senderName, address sender"

	// ChatSchemaName is the human-readable id the chat schema is registered under
	ChatSchemaName = "chat"

	// ChatEventID is the id of the event emitted for each chat message
	ChatEventID = "ChatMessage"

	// ChatEventTopic is the signature of the chat message event
	ChatEventTopic = "ChatMessage(bytes32 indexed roomId)"
)

// ChatEventSchema describes the ChatMessage event, indexed by room
var ChatEventSchema = EventSchema{
	Params: []EventParameter{
		{Name: "roomId", ParamType: "bytes32", IsIndexed: true},
	},
	EventTopic: ChatEventTopic,
}

// Keccak256 hashes data with legacy Keccak-256
func Keccak256(data ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// ComputeSchemaID derives the schema id from the schema definition
func ComputeSchemaID(schema string) Hash {
	return Keccak256([]byte(schema))
}

// SchemaField is one "type name" pair of a schema definition
type SchemaField struct {
	Type string
	Name string
}

// ParseSchema splits a schema definition such as
// "uint64 timestamp, string content" into its fields.
func ParseSchema(schema string) ([]SchemaField, error) {
	parts := strings.Split(schema, ",")
	fields := make([]SchemaField, 0, len(parts))
	for _, part := range parts {
		tokens := strings.Fields(part)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("invalid schema field %q", strings.TrimSpace(part))
		}
		if err := validateType(tokens[0]); err != nil {
			return nil, err
		}
		fields = append(fields, SchemaField{Type: tokens[0], Name: tokens[1]})
	}
	return fields, nil
}

func validateType(t string) error {
	switch t {
	case "bool", "address", "string", "bytes", "bytes32":
		return nil
	}
	if bits, ok := integerBits(t); ok {
		if bits < 8 || bits > 64 || bits%8 != 0 {
			return fmt.Errorf("unsupported integer width %q", t)
		}
		return nil
	}
	return fmt.Errorf("unsupported schema type %q", t)
}

// integerBits returns the width of a uintN or intN type
func integerBits(t string) (int, bool) {
	var digits string
	switch {
	case strings.HasPrefix(t, "uint"):
		digits = strings.TrimPrefix(t, "uint")
	case strings.HasPrefix(t, "int"):
		digits = strings.TrimPrefix(t, "int")
	default:
		return 0, false
	}
	bits, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return bits, true
}
