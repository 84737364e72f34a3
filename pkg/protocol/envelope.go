package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType is the lowercase wire tag carried in every envelope.
type MessageType string

const (
	TypeUsers    MessageType = "users"
	TypeRegister MessageType = "register"
	TypeMessage  MessageType = "message"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeUsers, TypeRegister, TypeMessage:
		return true
	default:
		return false
	}
}

func (t MessageType) String() string {
	return string(t)
}

// Envelope is the only unit ever sent on the wire.
//
// A nil DataArray or Data means the field is absent and is encoded as null.
type Envelope struct {
	MessageType MessageType `json:"messageType"`
	DataArray   []string    `json:"dataArray"`
	Data        *string     `json:"data"`
}

// NewUsers builds a roster envelope. A nil roster is encoded as an empty list.
func NewUsers(names []string) Envelope {
	if names == nil {
		names = []string{}
	}
	return Envelope{MessageType: TypeUsers, DataArray: names}
}

// NewRegister builds the envelope announcing the local username.
func NewRegister(username string) Envelope {
	return Envelope{MessageType: TypeRegister, Data: &username}
}

// NewMessage builds a chat envelope whose data is the JSON-encoded payload.
func NewMessage(payload ChatPayload) (Envelope, error) {
	data, err := EncodeChatPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{MessageType: TypeMessage, Data: &data}, nil
}

// Validate checks the presence rules for the envelope's message type.
func (e Envelope) Validate() error {
	switch e.MessageType {
	case TypeUsers:
		if e.DataArray == nil {
			return schemaViolation("users envelope requires dataArray")
		}
		if e.Data != nil {
			return schemaViolation("users envelope must not carry data")
		}
	case TypeRegister, TypeMessage:
		if e.Data == nil {
			return schemaViolation(fmt.Sprintf("%s envelope requires data", e.MessageType))
		}
		if e.DataArray != nil {
			return schemaViolation(fmt.Sprintf("%s envelope must not carry dataArray", e.MessageType))
		}
	default:
		return &ProtocolError{Kind: ErrUnknownVariant, Detail: fmt.Sprintf("%q", string(e.MessageType))}
	}
	return nil
}

// DataString returns Data, or "" when it is absent.
func (e Envelope) DataString() string {
	if e.Data == nil {
		return ""
	}
	return *e.Data
}

// Encode serializes a valid envelope to its JSON text form.
func Encode(e Envelope) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return string(b), nil
}

// wireEnvelope mirrors Envelope but keeps the tag as a plain string so an
// unknown variant can be reported instead of silently accepted.
type wireEnvelope struct {
	MessageType *string   `json:"messageType"`
	DataArray   []*string `json:"dataArray"`
	Data        *string   `json:"data"`
}

// Decode parses text into an Envelope. It fails with a *ProtocolError whose
// Kind is ErrMalformed, ErrUnknownVariant or ErrSchemaViolation.
func Decode(text string) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return Envelope{}, &ProtocolError{Kind: ErrMalformed, Detail: "invalid JSON", Err: err}
	}

	if w.MessageType == nil {
		return Envelope{}, schemaViolation("missing messageType")
	}

	var names []string
	if w.DataArray != nil {
		names = make([]string, 0, len(w.DataArray))
		for _, name := range w.DataArray {
			if name == nil {
				return Envelope{}, schemaViolation("dataArray entries must be strings")
			}
			names = append(names, *name)
		}
	}

	e := Envelope{
		MessageType: MessageType(*w.MessageType),
		DataArray:   names,
		Data:        w.Data,
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// ChatPayload is the JSON document carried inside a message envelope's data.
type ChatPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// IsImage reports whether the message text should be rendered as an image.
func (p ChatPayload) IsImage() bool {
	return strings.HasSuffix(p.Message, ".gif")
}

// EncodeChatPayload returns the JSON text for p.
func EncodeChatPayload(p ChatPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat payload: %w", err)
	}
	return string(b), nil
}

type wireChatPayload struct {
	From    *string `json:"from"`
	Message *string `json:"message"`
}

// DecodeChatPayload parses the data of a message envelope.
func DecodeChatPayload(data string) (ChatPayload, error) {
	var w wireChatPayload
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return ChatPayload{}, &ProtocolError{Kind: ErrMalformed, Detail: "invalid chat payload", Err: err}
	}
	if w.From == nil || w.Message == nil {
		return ChatPayload{}, schemaViolation("chat payload requires from and message")
	}
	return ChatPayload{From: *w.From, Message: *w.Message}, nil
}

// Protocol error kinds. Match them with errors.Is.
var (
	ErrMalformed       = errors.New("malformed envelope")
	ErrUnknownVariant  = errors.New("unknown message type")
	ErrSchemaViolation = errors.New("envelope schema violation")
)

// ProtocolError describes why a frame could not be decoded or encoded.
type ProtocolError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func schemaViolation(detail string) error {
	return &ProtocolError{Kind: ErrSchemaViolation, Detail: detail}
}
