// Package events defines the envelope every service exchanges and the closed catalog of
// event kinds with their payload schemas.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/order-saga/internal/shared/faults"
)

// SchemaVersion is stamped on every envelope this build produces.
const SchemaVersion = "1.0"

// ErrMalformedEnvelope marks bytes that cannot be read as an envelope at all.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope is the immutable wire record. ID is the sole deduplication key.
type Envelope struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Kind      Kind            `json:"kind"`
	SubjectID string          `json:"subjectId"`
	Payload   json.RawMessage `json:"payload"`
}

// Message pairs an envelope with its decoded, validated payload.
type Message struct {
	Envelope Envelope
	Payload  Payload
}

// Codec stamps envelopes with the producing service's identity.
type Codec struct {
	source string
	now    func() time.Time
	newID  func() string
}

// CodecOption customises a Codec.
type CodecOption func(*Codec)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides the event id source.
func WithIDGenerator(fn func() string) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewCodec builds a codec for the named source service.
func NewCodec(source string, opts ...CodecOption) *Codec {
	c := &Codec{
		source: source,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Source returns the service name stamped on produced envelopes.
func (c *Codec) Source() string { return c.source }

// Encode validates payload against the schema for kind and wraps it in a fresh envelope.
func (c *Codec) Encode(kind Kind, subjectID string, payload Payload) (Envelope, error) {
	want, err := payloadType(kind)
	if err != nil {
		return Envelope{}, err
	}
	if payload == nil {
		return Envelope{}, fmt.Errorf("%w: %s payload is nil", faults.ErrInvalidPayload, kind)
	}
	got := reflect.TypeOf(payload)
	if got.Kind() == reflect.Pointer {
		got = got.Elem()
	}
	if got != want {
		return Envelope{}, fmt.Errorf("%w: %s expects %s, got %s", faults.ErrInvalidPayload, kind, want.Name(), got.Name())
	}
	if strings.TrimSpace(subjectID) == "" {
		return Envelope{}, fmt.Errorf("%w: %s subject id is empty", faults.ErrInvalidPayload, kind)
	}
	if err := payload.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %w", faults.ErrInvalidPayload, kind, err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %w", faults.ErrInvalidPayload, kind, err)
	}
	return Envelope{
		ID:        c.newID(),
		Timestamp: c.now(),
		Source:    c.source,
		Version:   SchemaVersion,
		Kind:      kind,
		SubjectID: subjectID,
		Payload:   raw,
	}, nil
}

// Marshal renders an envelope for the transport.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses transport bytes. Structural problems yield ErrMalformedEnvelope.
// An unknown kind yields the populated envelope together with ErrUnknownEventKind
// so the caller can still identify and reject it.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	switch {
	case strings.TrimSpace(env.ID) == "":
		return Envelope{}, fmt.Errorf("%w: id is empty", ErrMalformedEnvelope)
	case strings.TrimSpace(env.SubjectID) == "":
		return Envelope{}, fmt.Errorf("%w: subject id is empty", ErrMalformedEnvelope)
	case len(env.Payload) == 0:
		return Envelope{}, fmt.Errorf("%w: payload is empty", ErrMalformedEnvelope)
	case !compatibleVersion(env.Version):
		return Envelope{}, fmt.Errorf("%w: unsupported schema version %q", ErrMalformedEnvelope, env.Version)
	}
	if !Known(env.Kind) {
		return env, fmt.Errorf("%w: %q", faults.ErrUnknownEventKind, env.Kind)
	}
	return env, nil
}

// DecodePayload strictly decodes and validates the payload carried by env.
func DecodePayload(env Envelope) (Message, error) {
	t, err := payloadType(env.Kind)
	if err != nil {
		return Message{}, err
	}
	ptr := reflect.New(t)
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr.Interface()); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %w", faults.ErrInvalidPayload, env.Kind, err)
	}
	payload, ok := ptr.Elem().Interface().(Payload)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s has no schema", faults.ErrInvalidPayload, env.Kind)
	}
	if err := payload.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %w", faults.ErrInvalidPayload, env.Kind, err)
	}
	return Message{Envelope: env, Payload: payload}, nil
}

func compatibleVersion(version string) bool {
	major, _, _ := strings.Cut(version, ".")
	want, _, _ := strings.Cut(SchemaVersion, ".")
	return major == want
}
