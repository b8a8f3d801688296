package bus

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
)

// Envelope wraps an event frame for pub/sub transit. Receivers drop
// own-instance echoes and anything whose MAC does not verify.
type Envelope struct {
	Instance string      `json:"instance"`
	MAC      string      `json:"mac"`
	Frame    event.Frame `json:"frame"`
}

// Sign computes the envelope MAC over instance, frame type, and payload.
func Sign(secret []byte, instance string, f event.Frame) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(instance))
	mac.Write([]byte{0})
	mac.Write([]byte(f.Type))
	mac.Write([]byte{0})
	mac.Write(f.Payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the envelope's MAC is valid under secret.
func Verify(secret []byte, env Envelope) bool {
	want := Sign(secret, env.Instance, env.Frame)
	return hmac.Equal([]byte(want), []byte(env.MAC))
}

type distributed struct {
	instance  string
	secret    []byte
	channel   string
	publisher message.Publisher
	log       *zap.Logger
}

// publish signs and publishes a frame. Publish failures never propagate: the
// local delegate already holds the event and remains the source of truth.
func (d *distributed) publish(f event.Frame) {
	env := Envelope{
		Instance: d.instance,
		MAC:      Sign(d.secret, d.instance, f),
		Frame:    f,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		d.log.Error("bus: encode envelope", zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := d.publisher.Publish(d.channel, msg); err != nil {
		d.log.Warn("bus: publish failed", zap.String("channel", d.channel), zap.Error(err))
	}
}

// decode verifies and unwraps an envelope, returning false for own-instance
// echoes and signature failures.
func (d *distributed) decode(payload []byte) (event.Frame, bool) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.log.Warn("bus: malformed envelope", zap.Error(err))
		return event.Frame{}, false
	}
	if env.Instance == d.instance {
		return event.Frame{}, false
	}
	if !Verify(d.secret, env) {
		d.log.Warn("bus: bad envelope signature", zap.String("instance", env.Instance))
		return event.Frame{}, false
	}
	return env.Frame, true
}

// DistributedInbound mirrors every locally produced inbound event onto a
// pub/sub channel and delivers remote events into the local delegate.
type DistributedInbound struct {
	delegate Inbound
	d        *distributed
}

type DistributedConfig struct {
	InstanceID string
	Secret     string
	Channel    string
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Log        *zap.Logger
}

func NewDistributedInbound(ctx context.Context, delegate Inbound, cfg DistributedConfig) (*DistributedInbound, error) {
	b := &DistributedInbound{
		delegate: delegate,
		d: &distributed{
			instance:  cfg.InstanceID,
			secret:    []byte(cfg.Secret),
			channel:   cfg.Channel,
			publisher: cfg.Publisher,
			log:       cfg.Log,
		},
	}
	msgs, err := cfg.Subscriber.Subscribe(ctx, cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}
	go b.receiveLoop(msgs)
	return b, nil
}

func (b *DistributedInbound) receiveLoop(msgs <-chan *message.Message) {
	for msg := range msgs {
		frame, ok := b.d.decode(msg.Payload)
		msg.Ack()
		if !ok {
			continue
		}
		ev, err := event.DecodeInbound(frame)
		if err != nil {
			b.d.log.Warn("bus: undecodable inbound frame", zap.Error(err))
			continue
		}
		if !b.delegate.TrySend(ev) {
			b.d.log.Warn("bus: local inbound queue full, remote event dropped")
		}
	}
}

func (b *DistributedInbound) Send(ctx context.Context, ev event.Inbound) error {
	if err := b.delegate.Send(ctx, ev); err != nil {
		return err
	}
	if f, err := event.EncodeInbound(ev); err == nil {
		b.d.publish(f)
	}
	return nil
}

func (b *DistributedInbound) TrySend(ev event.Inbound) bool {
	if !b.delegate.TrySend(ev) {
		return false
	}
	if f, err := event.EncodeInbound(ev); err == nil {
		b.d.publish(f)
	}
	return true
}

func (b *DistributedInbound) TryReceive() (event.Inbound, bool) { return b.delegate.TryReceive() }
func (b *DistributedInbound) Close()                            { b.delegate.Close() }

// DistributedOutbound is the outbound twin of DistributedInbound.
type DistributedOutbound struct {
	delegate Outbound
	d        *distributed
}

func NewDistributedOutbound(ctx context.Context, delegate Outbound, cfg DistributedConfig) (*DistributedOutbound, error) {
	b := &DistributedOutbound{
		delegate: delegate,
		d: &distributed{
			instance:  cfg.InstanceID,
			secret:    []byte(cfg.Secret),
			channel:   cfg.Channel,
			publisher: cfg.Publisher,
			log:       cfg.Log,
		},
	}
	msgs, err := cfg.Subscriber.Subscribe(ctx, cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Channel, err)
	}
	go b.receiveLoop(msgs)
	return b, nil
}

func (b *DistributedOutbound) receiveLoop(msgs <-chan *message.Message) {
	for msg := range msgs {
		frame, ok := b.d.decode(msg.Payload)
		msg.Ack()
		if !ok {
			continue
		}
		ev, err := event.DecodeOutbound(frame)
		if err != nil {
			b.d.log.Warn("bus: undecodable outbound frame", zap.Error(err))
			continue
		}
		if !b.delegate.TrySend(ev) {
			b.d.log.Warn("bus: local outbound queue full, remote event dropped")
		}
	}
}

func (b *DistributedOutbound) Send(ctx context.Context, ev event.Outbound) error {
	if err := b.delegate.Send(ctx, ev); err != nil {
		return err
	}
	if f, err := event.EncodeOutbound(ev); err == nil {
		b.d.publish(f)
	}
	return nil
}

func (b *DistributedOutbound) TrySend(ev event.Outbound) bool {
	if !b.delegate.TrySend(ev) {
		return false
	}
	if f, err := event.EncodeOutbound(ev); err == nil {
		b.d.publish(f)
	}
	return true
}

func (b *DistributedOutbound) TryReceive() (event.Outbound, bool) { return b.delegate.TryReceive() }
func (b *DistributedOutbound) Close()                             { b.delegate.Close() }
