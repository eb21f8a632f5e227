package eventsink

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go"

	"queue-system/config"
)

// NewSink builds the configured Event Sink implementation. Unknown
// providers are an error rather than a silent noop.
func NewSink(cfg *config.Config) (Sink, error) {
	switch cfg.EventSink {
	case "pubnub":
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		return NewPubNubSink(pubnub.NewPubNub(pnConfig)), nil
	case "nats":
		return NewNATSSink(cfg.NATSURL, cfg.NATSName)
	case "none", "":
		return NewNoopSink(), nil
	}
	return nil, fmt.Errorf("unknown event sink provider %q", cfg.EventSink)
}

type noopSink struct{}

// NewNoopSink returns a Sink that drops every event. Used when no
// delivery backend is configured and by tests.
func NewNoopSink() Sink { return noopSink{} }

func (noopSink) Publish(context.Context, Event) {}

func (noopSink) Close() {}
