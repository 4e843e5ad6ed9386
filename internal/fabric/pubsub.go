package fabric

import (
	"bytes"
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// UpdatesTopic is the single GossipSub topic the publish/subscribe
// fabric runs over: every UPDATE, PEER advertisement, and HEARTBEAT is
// a multipart frame set published here.
const UpdatesTopic = "/zht/updates/1.0.0"

// Publisher is the node's bound publish endpoint: it broadcasts
// multipart frame sets to every subscriber.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher joins topicName on ps and returns a Publisher bound to it.
func NewPublisher(ps *pubsub.PubSub, topicName string) (*Publisher, error) {
	topic, err := ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("fabric: join topic %s: %w", topicName, err)
	}
	return &Publisher{topic: topic}, nil
}

// Publish broadcasts frames to every subscriber of the topic.
func (p *Publisher) Publish(ctx context.Context, frames [][]byte) error {
	var buf bytes.Buffer
	if err := WriteFrames(&buf, frames); err != nil {
		return err
	}
	return p.topic.Publish(ctx, buf.Bytes())
}

// Close releases the underlying topic handle.
func (p *Publisher) Close() error {
	return p.topic.Close()
}

// Subscriber is the node's connect-outward subscribe endpoint: it
// receives every frame set published to the topic by any peer.
type Subscriber struct {
	sub  *pubsub.Subscription
	self peer.ID
}

// NewSubscriber subscribes to topicName on ps. self is used by Next to
// drop the node's own publishes without inspecting message contents.
func NewSubscriber(ps *pubsub.PubSub, topicName string, self peer.ID) (*Subscriber, error) {
	topic, err := ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("fabric: join topic %s: %w", topicName, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("fabric: subscribe to topic %s: %w", topicName, err)
	}
	return &Subscriber{sub: sub, self: self}, nil
}

// Next blocks for the next published frame set, skipping messages this
// node published itself. It returns the ID of the peer the message was
// received from (the publisher when delivered directly, otherwise the
// forwarding peer) alongside the decoded frames.
func (s *Subscriber) Next(ctx context.Context) ([][]byte, peer.ID, error) {
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			return nil, "", err
		}
		if msg.ReceivedFrom == s.self {
			continue
		}
		frames, err := ReadFrames(bytes.NewReader(msg.Data))
		if err != nil {
			return nil, msg.ReceivedFrom, fmt.Errorf("fabric: decode publish: %w", err)
		}
		return frames, msg.ReceivedFrom, nil
	}
}

// Cancel stops the subscription.
func (s *Subscriber) Cancel() {
	s.sub.Cancel()
}
