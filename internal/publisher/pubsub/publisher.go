// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// ErrNoTopic is returned when the Publisher was built without a topic.
var ErrNoTopic = errors.New("pubsub topic is not configured")

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	topic      *pubsub.Topic
	attributes map[string]string
}

// New creates a Publisher for the provided topic. attributes are attached to every
// message.
func New(topic *pubsub.Topic, attributes map[string]string) *Publisher {
	attrs := make(map[string]string, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	return &Publisher{topic: topic, attributes: attrs}
}

// Publish marshals the payload to JSON and blocks until the server acknowledges it.
// The topic argument is recorded as the "topic" attribute; the message always goes to
// the topic the Publisher was built with.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.topic == nil {
		return "", ErrNoTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(p.attributes)+1)}
	for k, v := range p.attributes {
		msg.Attributes[k] = v
	}
	if topic != "" {
		msg.Attributes["topic"] = topic
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
