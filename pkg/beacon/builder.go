// builder.go turns raw errors and messages into normalized envelopes.

package beacon

import (
	"context"

	"github.com/google/uuid"
	"github.com/strongdm/beacon/pkg/clock"
)

// EnvelopeBuilder fills envelope defaults from the ambient session and
// adapter state. Build has no side effects beyond reading that state.
type EnvelopeBuilder struct {
	sessions *SessionManager
	adapter  Adapter
	scrubber *Scrubber
	clock    clock.Clock
}

// NewEnvelopeBuilder creates a builder. adapter and scrubber may be nil.
func NewEnvelopeBuilder(sessions *SessionManager, adapter Adapter, scrubber *Scrubber, clk clock.Clock) *EnvelopeBuilder {
	if clk == nil {
		clk = clock.Real()
	}
	return &EnvelopeBuilder{
		sessions: sessions,
		adapter:  adapter,
		scrubber: scrubber,
		clock:    clk,
	}
}

// Build completes partial into a full envelope:
//   - ID and Timestamp are generated when unset
//   - Level defaults to error
//   - Platform defaults to the adapter's tag, or "unknown"
//   - Context defaults to the adapter's context snapshot, or an empty map
//   - Extra is merged over fields attached to ctx with WithExtra
//   - Session is always the current session
//
// Scrubbing and fingerprinting run last.
func (b *EnvelopeBuilder) Build(ctx context.Context, partial EventEnvelope) EventEnvelope {
	envelope := partial

	if envelope.ID == "" {
		envelope.ID = uuid.NewString()
	}
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = b.clock.Now()
	}
	if !envelope.Level.Valid() {
		envelope.Level = LevelError
	}
	if envelope.Platform == "" {
		envelope.Platform = b.platform()
	}

	if envelope.Context == nil {
		if b.adapter != nil {
			envelope.Context = b.adapter.Context(ctx)
		}
		if envelope.Context == nil {
			envelope.Context = map[string]any{}
		}
	} else {
		envelope.Context = cloneFields(envelope.Context)
	}

	extra := cloneFields(ExtraFromContext(ctx))
	for k, v := range partial.Extra {
		extra[k] = v
	}
	envelope.Extra = extra

	envelope.Session = b.sessions.CurrentSession(ctx)

	if b.scrubber != nil {
		envelope = b.scrubber.ScrubEnvelope(envelope)
	}
	envelope.Fingerprint = Fingerprint(envelope)
	return envelope
}

func (b *EnvelopeBuilder) platform() string {
	if b.adapter != nil {
		if p := b.adapter.Platform(); p != "" {
			return p
		}
	}
	return PlatformUnknown
}
