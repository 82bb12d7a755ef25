// Package serde defines the primitives to serialize and deserialize (serde)
// the documents stored by the engine, most notably policy documents.
//
// A message serializes itself through a format engine registered for the
// format of the context, so the wire representation can evolve independently
// of the in-memory model.
package serde

// Format is the identifier type of a serialization format.
type Format string

const (
	// FormatJSON is the identifier of the JSON format.
	FormatJSON Format = "JSON"
)

// Message is the interface a data model should implement to be serialized.
type Message interface {
	// Serialize returns the bytes of the message according to the format of
	// the context.
	Serialize(ctx Context) ([]byte, error)
}

// Factory is the interface to implement to instantiate a data model from its
// serialized form.
type Factory interface {
	// Deserialize returns the message instantiated from the data.
	Deserialize(ctx Context, data []byte) (Message, error)
}

// FormatEngine is the interface to implement to encode and decode messages in
// a given format.
type FormatEngine interface {
	// Encode returns the bytes of the message in the format of the engine.
	Encode(ctx Context, msg Message) ([]byte, error)

	// Decode returns the message read from the data in the format of the
	// engine.
	Decode(ctx Context, data []byte) (Message, error)
}
