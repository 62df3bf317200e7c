// Package model defines domain types used by the service.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedID is returned when a notification carries no usable entity id.
var ErrMalformedID = errors.New("malformed entity id")

// Notification represents an incoming data-change notification.
//
// ID is kept raw so a notification for an unknown dimension is dropped
// before its id is ever interpreted.
type Notification struct {
	DimType string          `json:"dim_type"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// ParseNotification decodes a notification payload. A dim_type that is not
// a JSON string takes its JSON text as the tag (5 becomes "5"), so it never
// matches a registered dimension; a null dim_type is empty.
func ParseNotification(payload []byte) (Notification, error) {
	var wire struct {
		DimType json.RawMessage `json:"dim_type"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return Notification{DimType: tagText(wire.DimType), ID: wire.ID}, nil
}

func tagText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(raw)
	}
	return buf.String()
}

// EntityID returns the integer id of the notification. Both JSON integers
// and strings holding a base-10 integer are accepted.
func (n Notification) EntityID() (int64, error) {
	raw := bytes.TrimSpace(n.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: missing", ErrMalformedID)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedID, err)
		}
		raw = []byte(s)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, string(raw))
	}
	return id, nil
}

// Delivery is one notification travelling through the in-process queue.
type Delivery struct {
	Payload    []byte
	Source     string
	Sequence   uint64
	ReceivedAt time.Time

	// Acker settles the delivery with its transport once it is done with.
	// Nil for transports without acknowledgement.
	Acker Acknowledger
}

// Acknowledger removes a settled delivery from the transport it came from.
type Acknowledger interface {
	Ack(ctx context.Context, d Delivery) error
}
