package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnknownEncoding is returned for an encoding name other than json or proto.
var ErrUnknownEncoding = errors.New("unknown wire encoding")

const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// Codec converts events to and from their bytes on the wire.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// NewCodec returns the codec for an encoding name.
func NewCodec(encoding string) (Codec, error) {
	switch strings.ToLower(encoding) {
	case "", EncodingJSON:
		return jsonCodec{}, nil
	case EncodingProto:
		return protoCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownEncoding, encoding)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return EncodingJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// protoCodec carries the event's JSON object form as a google.protobuf.Struct, so events
// keep the same field names on both encodings.
type protoCodec struct{}

func (protoCodec) Name() string { return EncodingProto }

func (protoCodec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("proto encoding needs an object: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode struct: %w", err)
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Subjects names the three event subjects under a prefix.
type Subjects struct {
	Packet string
	Alert  string
	Stats  string
}

// SubjectsFor derives the subjects for prefix, e.g. "kspectra" -> "kspectra.packet".
func SubjectsFor(prefix string) Subjects {
	prefix = strings.TrimSuffix(prefix, ".")
	return Subjects{
		Packet: prefix + ".packet",
		Alert:  prefix + ".alert",
		Stats:  prefix + ".stats",
	}
}
