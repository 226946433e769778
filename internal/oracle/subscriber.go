package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultSubject is where price updates are published, one subject per
// asset: cfd.prices.ETH, cfd.prices.BTC, ...
const DefaultSubject = "cfd.prices.>"

// PriceUpdate is the wire format of a price message. Price is a decimal
// string so feeds can publish without knowing our integer precision; it
// must carry no fractional part.
type PriceUpdate struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

// UpdateFunc is called after the feed has taken a new price.
type UpdateFunc func(ctx context.Context, asset string, price *uint256.Int)

// Subscriber applies price messages from NATS to a ManualFeed.
type Subscriber struct {
	feed     *ManualFeed
	onUpdate UpdateFunc
	log      zerolog.Logger
	sub      *nats.Subscription
}

func NewSubscriber(feed *ManualFeed, onUpdate UpdateFunc, log zerolog.Logger) *Subscriber {
	return &Subscriber{feed: feed, onUpdate: onUpdate, log: log}
}

// Subscribe starts consuming subject on nc. Messages are handled on the
// connection's delivery goroutine, one at a time.
func (s *Subscriber) Subscribe(ctx context.Context, nc *nats.Conn, subject string) error {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := s.Apply(ctx, msg.Data); err != nil {
			s.log.Warn().Err(err).Str("subject", msg.Subject).Msg("price update rejected")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.log.Info().Str("subject", subject).Msg("subscribed to prices")
	return nil
}

// Apply decodes one price message, stores it and fires the update hook.
func (s *Subscriber) Apply(ctx context.Context, data []byte) error {
	var upd PriceUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return fmt.Errorf("decode price update: %w", err)
	}
	if upd.Asset == "" {
		return fmt.Errorf("%w: missing asset", ErrNoPrice)
	}
	price, err := ToUint(upd.Price)
	if err != nil {
		return err
	}
	if err := s.feed.Set(upd.Asset, price); err != nil {
		return err
	}
	s.log.Debug().Str("asset", upd.Asset).Str("price", price.Dec()).Msg("price updated")
	if s.onUpdate != nil {
		s.onUpdate(ctx, normalize(upd.Asset), price)
	}
	return nil
}

// Stop drains the subscription.
func (s *Subscriber) Stop() {
	if s.sub == nil {
		return
	}
	if err := s.sub.Drain(); err != nil {
		s.log.Warn().Err(err).Msg("drain price subscription")
	}
}

// Publish sends a price update for asset on subject prefix (the
// subscription subject without its wildcard).
func Publish(nc *nats.Conn, prefix, asset string, price *uint256.Int) error {
	d, err := decimal.NewFromString(price.Dec())
	if err != nil {
		return err
	}
	data, err := json.Marshal(PriceUpdate{Asset: asset, Price: d})
	if err != nil {
		return err
	}
	return nc.Publish(prefix+"."+normalize(asset), data)
}

// ToUint converts a whole, positive decimal into a uint256.
func ToUint(d decimal.Decimal) (*uint256.Int, error) {
	if !d.IsPositive() || !d.IsInteger() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, d.String())
	}
	v, err := uint256.FromDecimal(d.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	return v, nil
}

// Connect dials NATS with unlimited reconnects.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("cfd-pool"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}
