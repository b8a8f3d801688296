package shard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/id"
)

// Incoming is one delivered inter-engine message with its verified sender.
type Incoming struct {
	From string
	Msg  Message
}

// Peer is this engine's connection to the inter-engine bus. Messages travel
// as HMAC-signed envelopes over two channels: a shared broadcast channel and
// a per-engine direct channel. Delivery is best-effort; send failures are
// logged, never propagated.
type Peer struct {
	engineID  string
	secret    []byte
	prefix    string
	publisher message.Publisher
	registry  Registry
	log       *zap.Logger
	incoming  chan Incoming
}

type PeerConfig struct {
	EngineID      string
	Secret        string
	ChannelPrefix string // e.g. "ambonmud.engines"
	Publisher     message.Publisher
	Subscriber    message.Subscriber
	Registry      Registry
	Log           *zap.Logger
	// IncomingDepth bounds the delivery queue the engine drains each tick.
	IncomingDepth int
}

func NewPeer(ctx context.Context, cfg PeerConfig) (*Peer, error) {
	if cfg.IncomingDepth <= 0 {
		cfg.IncomingDepth = 256
	}
	p := &Peer{
		engineID:  cfg.EngineID,
		secret:    []byte(cfg.Secret),
		prefix:    cfg.ChannelPrefix,
		publisher: cfg.Publisher,
		registry:  cfg.Registry,
		log:       cfg.Log,
		incoming:  make(chan Incoming, cfg.IncomingDepth),
	}

	for _, ch := range []string{p.broadcastChannel(), p.directChannel(cfg.EngineID)} {
		msgs, err := cfg.Subscriber.Subscribe(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", ch, err)
		}
		go p.receiveLoop(msgs)
	}
	return p, nil
}

func (p *Peer) broadcastChannel() string            { return p.prefix + ".broadcast" }
func (p *Peer) directChannel(engineID string) string { return p.prefix + ".engine." + engineID }

func (p *Peer) receiveLoop(msgs <-chan *message.Message) {
	for msg := range msgs {
		var env bus.Envelope
		err := json.Unmarshal(msg.Payload, &env)
		msg.Ack()
		if err != nil {
			p.log.Warn("shard: malformed envelope", zap.Error(err))
			continue
		}
		if env.Instance == p.engineID {
			continue
		}
		if !bus.Verify(p.secret, env) {
			p.log.Warn("shard: bad envelope signature", zap.String("sender", env.Instance))
			continue
		}
		m, err := Decode(env.Frame)
		if err != nil {
			p.log.Warn("shard: undecodable message", zap.Error(err))
			continue
		}
		select {
		case p.incoming <- Incoming{From: env.Instance, Msg: m}:
		default:
			p.log.Warn("shard: incoming queue full, message dropped",
				zap.String("type", env.Frame.Type))
		}
	}
}

// Incoming is the delivery queue the engine drains on its tick.
func (p *Peer) Incoming() <-chan Incoming { return p.incoming }

func (p *Peer) publish(channel string, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	env := bus.Envelope{
		Instance: p.engineID,
		MAC:      bus.Sign(p.secret, p.engineID, frame),
		Frame:    frame,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.publisher.Publish(channel, message.NewMessage(watermill.NewUUID(), payload))
}

// SendToEngine delivers a message to one engine's direct channel.
func (p *Peer) SendToEngine(engineID string, m Message) error {
	if err := p.publish(p.directChannel(engineID), m); err != nil {
		p.log.Warn("shard: send to engine failed",
			zap.String("engine", engineID), zap.Error(err))
		return err
	}
	return nil
}

// SendToZone routes a message to the engine owning the zone.
func (p *Peer) SendToZone(zone id.ZoneID, m Message) error {
	owner, ok := p.registry.OwnerOf(zone)
	if !ok {
		return fmt.Errorf("zone %s has no owner", zone)
	}
	return p.SendToEngine(owner.EngineID, m)
}

// Broadcast delivers a message to every engine (minus self, dropped on
// receive).
func (p *Peer) Broadcast(m Message) error {
	if err := p.publish(p.broadcastChannel(), m); err != nil {
		p.log.Warn("shard: broadcast failed", zap.Error(err))
		return err
	}
	return nil
}

func (p *Peer) EngineID() string { return p.engineID }
