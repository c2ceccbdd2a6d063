package chat

import (
	"github.com/cyberinferno/go-chat/logger"
)

// Broadcaster fans a payload out to members.
type Broadcaster struct {
	log logger.Logger
}

// NewBroadcaster creates a Broadcaster logging failed deliveries to log.
func NewBroadcaster(log logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Broadcaster{log: log}
}

// Deliver sends payload to every member except the one named exclude (pass ""
// to exclude nobody). A failed send never stops the fan-out; failed members are
// returned for the caller to evict. Members are visited in the given order and
// each Send only enqueues, so lines from one sender reach every receiver in the
// order they were broadcast.
func (b *Broadcaster) Deliver(payload string, members []*Registration, exclude string) []*Registration {
	var failed []*Registration
	for _, reg := range members {
		if exclude != "" && reg.nickname == exclude {
			continue
		}

		if err := reg.peer.Send(payload); err != nil {
			b.log.Debug("delivery failed",
				logger.Field{Key: "nickname", Value: reg.nickname},
				logger.Err(err))
			failed = append(failed, reg)
		}
	}

	return failed
}
