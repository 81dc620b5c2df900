package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes f as a flat JSON object with its "type" field first.
func Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrMalformed)
	}

	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", f.FrameType(), err)
	}

	head, err := json.Marshal(f.FrameType())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(head) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(head)

	// body is a JSON object: "{}" or "{...}".
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}

	return buf.Bytes(), nil
}

// MustEncode is Encode for frames built from trusted values.
func MustEncode(f Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses data into the concrete Frame named by its "type" field and
// checks the variant's required fields.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Type {
	case TypeAuth:
		return decodeAs[Auth](data)
	case TypeAuthOK:
		return decodeAs[AuthOK](data)
	case TypeMessage:
		return decodeAs[Message](data)
	case TypeMessageAck:
		return decodeAs[MessageAck](data)
	case TypeStatusUpdate:
		return decodeAs[StatusUpdate](data)
	case TypeTyping:
		return decodeAs[Typing](data)
	case TypeStopTyping:
		return decodeAs[StopTyping](data)
	case TypeTypingStatus:
		return decodeAs[TypingStatus](data)
	case TypeMarkRead:
		return decodeAs[MarkRead](data)
	case TypeMessagesRead:
		return decodeAs[MessagesRead](data)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeError:
		return decodeAs[Error](data)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

func decodeAs[T Frame](data []byte) (Frame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.FrameType(), err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}
