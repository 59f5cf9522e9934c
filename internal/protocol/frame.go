// Package protocol converts between websocket text frames and the
// conversation model. Inbound frames are "Tag:payload" strings; outbound
// pushes are JSON objects with a single top-level key.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"helpconv/pkg/types"
)

// Kind is the tag in front of an inbound frame.
type Kind string

const (
	KindSession      Kind = "Session"
	KindOpenStudent  Kind = "OpenStudent"
	KindCloseStudent Kind = "CloseStudent"
	KindOpenConv     Kind = "OpenConv"
	KindCloseConv    Kind = "CloseConv"
	KindGetMessage   Kind = "GetMessage"
	KindPostMessage  Kind = "PostMessage"
	KindUpdMessage   Kind = "UpdMessage"
	KindUpdConv      Kind = "UpdConv"
)

// MaxFrameBytes bounds one inbound frame: a full message body plus its JSON
// envelope.
const MaxFrameBytes = types.MaxContentBytes + 4096

// Frame is one decoded inbound frame. Which fields are set depends on Kind.
type Frame struct {
	Kind       Kind
	Token      string
	StudentID  string
	ConvNbr    int
	MsgNbr     int
	Post       *types.PostMessageRequest
	UpdMessage *types.UpdMessageRequest
	UpdConv    *types.UpdConvRequest
}

// Parse decodes and validates one inbound frame.
func Parse(text string) (Frame, error) {
	if len(text) > MaxFrameBytes {
		return Frame{}, ErrFrameTooLarge
	}
	tag, payload, ok := strings.Cut(text, ":")
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing ':' after tag", ErrMalformedFrame)
	}

	f := Frame{Kind: Kind(tag)}
	var err error
	switch f.Kind {
	case KindSession:
		f.Token = strings.TrimSpace(payload)
		if f.Token == "" {
			err = fmt.Errorf("%w: empty session token", ErrMalformedFrame)
		}
	case KindOpenStudent, KindCloseStudent:
		f.StudentID, err = parseStudent(payload)
	case KindOpenConv, KindCloseConv:
		f.StudentID, f.ConvNbr, err = parseConvTarget(payload)
	case KindGetMessage:
		conv, msg, found := strings.Cut(payload, ":")
		if !found {
			return Frame{}, fmt.Errorf("%w: GetMessage needs <student>.<conv>:<msg>", ErrMalformedFrame)
		}
		if f.StudentID, f.ConvNbr, err = parseConvTarget(conv); err == nil {
			f.MsgNbr, err = parseNumber(msg)
		}
	case KindPostMessage:
		f.Post = &types.PostMessageRequest{}
		if err = decode(payload, f.Post); err == nil {
			err = f.Post.Validate()
		}
	case KindUpdMessage:
		f.UpdMessage = &types.UpdMessageRequest{}
		if err = decode(payload, f.UpdMessage); err == nil {
			err = f.UpdMessage.Validate()
		}
	case KindUpdConv:
		f.UpdConv = &types.UpdConvRequest{}
		if err = decode(payload, f.UpdConv); err == nil {
			err = f.UpdConv.Validate()
		}
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, tag)
	}
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func parseStudent(s string) (string, error) {
	if !types.IsValidUserID(s) {
		return "", fmt.Errorf("%w: %w", ErrMalformedFrame, types.ErrInvalidStudentID)
	}
	return s, nil
}

// parseConvTarget splits "<studentId>.<convNbr>" at the last dot, since
// student IDs may themselves contain dots.
func parseConvTarget(s string) (string, int, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return "", 0, fmt.Errorf("%w: expected <student>.<conv>", ErrMalformedFrame)
	}
	id, err := parseStudent(s[:dot])
	if err != nil {
		return "", 0, err
	}
	n, err := parseNumber(s[dot+1:])
	if err != nil {
		return "", 0, err
	}
	return id, n, nil
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad number %q", ErrMalformedFrame, s)
	}
	return n, nil
}

func decode(payload string, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return nil
}

// String renders a frame back to wire form, for the frame kinds whose
// payload is not JSON. It is what clients and tests send.
func (f Frame) String() string {
	switch f.Kind {
	case KindSession:
		return string(f.Kind) + ":" + f.Token
	case KindOpenStudent, KindCloseStudent:
		return string(f.Kind) + ":" + f.StudentID
	case KindOpenConv, KindCloseConv:
		return fmt.Sprintf("%s:%s.%d", f.Kind, f.StudentID, f.ConvNbr)
	case KindGetMessage:
		return fmt.Sprintf("%s:%s.%d:%d", f.Kind, f.StudentID, f.ConvNbr, f.MsgNbr)
	}
	var body interface{}
	switch {
	case f.Post != nil:
		body = f.Post
	case f.UpdMessage != nil:
		body = f.UpdMessage
	case f.UpdConv != nil:
		body = f.UpdConv
	}
	raw, _ := json.Marshal(body)
	return string(f.Kind) + ":" + string(raw)
}
