package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceStreamName is the JetStream stream carrying oracle price updates.
const PriceStreamName = "VAULT_PRICES"

// PriceUpdate is the wire format published by external price sources on
// oracle.prices.<symbol>.
type PriceUpdate struct {
	Symbol    string `json:"symbol"`
	Price     uint64 `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt int64  `json:"updated_at"` // unix seconds of the source's last update
}

// NATSFeed is a PriceFeed backed by a JetStream price subject. It caches
// the most recent update; staleness of the cached quote is judged by the
// Adapter, not here.
type NATSFeed struct {
	js       jetstream.JetStream
	subject  string
	consumer string
	log      zerolog.Logger

	mu     sync.RWMutex
	latest Quote
	seen   bool

	cc jetstream.ConsumeContext
}

func NewNATSFeed(js jetstream.JetStream, symbol string, log zerolog.Logger) *NATSFeed {
	return &NATSFeed{
		js:       js,
		subject:  fmt.Sprintf("oracle.prices.%s", symbol),
		consumer: fmt.Sprintf("vault-prices-%s", symbol),
		log:      log,
	}
}

// Start creates the durable consumer and begins caching updates.
func (f *NATSFeed) Start(ctx context.Context) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       f.consumer,
		FilterSubject: f.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer %s: %w", f.consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var update PriceUpdate
		if err := json.Unmarshal(msg.Data(), &update); err != nil {
			f.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("unparseable price update")
			msg.Ack() // ack garbage to avoid a redelivery loop
			return
		}

		f.mu.Lock()
		f.latest = Quote{
			Price:     update.Price,
			Decimals:  update.Decimals,
			UpdatedAt: time.Unix(update.UpdatedAt, 0),
		}
		f.seen = true
		f.mu.Unlock()

		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", f.subject, err)
	}

	f.mu.Lock()
	f.cc = cc
	f.mu.Unlock()
	f.log.Info().Str("subject", f.subject).Msg("price feed subscribed")
	return nil
}

// Stop halts consumption. Safe to call more than once; the cached
// quote remains readable.
func (f *NATSFeed) Stop() {
	f.mu.Lock()
	cc := f.cc
	f.cc = nil
	f.mu.Unlock()
	if cc != nil {
		cc.Stop()
	}
}

func (f *NATSFeed) Quote(ctx context.Context) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.seen {
		return Quote{}, fmt.Errorf("no update received on %s yet", f.subject)
	}
	return f.latest, nil
}

// EnsurePriceStream creates the inbound price stream if it doesn't exist.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      PriceStreamName,
		Subjects:  []string{"oracle.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", PriceStreamName, err)
	}
	return nil
}
