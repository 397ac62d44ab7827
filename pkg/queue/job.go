package queue

import (
	"context"
	"encoding/json"
)

// Job handles one message type. A non-nil result is sent back to the
// message's reply key when the producer asked for one.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) (interface{}, error)
}
