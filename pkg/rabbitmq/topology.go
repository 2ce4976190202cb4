package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/event-booking/pkg/topics"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	headerKey = "x-message-key"

	contentTypeJSON = "application/json"
)

// QueueName is the durable queue a service consumes topic from.
func QueueName(service, topic string) string {
	return service + "." + topic
}

// declareTopology declares the exchange, the service's queue for topic bound
// by the topic name, and the shared dead-letter queue for topic.
func declareTopology(ch *amqp.Channel, exchange, service, topic string) (string, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("exchange declare: %w", err)
	}

	q := QueueName(service, topic)
	if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("queue declare (%s): %w", q, err)
	}
	if err := ch.QueueBind(q, topic, exchange, false, nil); err != nil {
		return "", fmt.Errorf("queue bind (%s): %w", q, err)
	}

	dlt := topics.DeadLetter(topic)
	if _, err := ch.QueueDeclare(dlt, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("dead-letter queue declare (%s): %w", dlt, err)
	}
	if err := ch.QueueBind(dlt, dlt, exchange, false, nil); err != nil {
		return "", fmt.Errorf("dead-letter queue bind (%s): %w", dlt, err)
	}
	return q, nil
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "PRECONDITION_FAILED") || strings.Contains(msg, "INEQUIVALENT ARG")
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func copyHeaders(in map[string]any) amqp.Table {
	out := amqp.Table{}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func headerString(h amqp.Table, k string) string {
	if h == nil {
		return ""
	}
	switch v := h[k].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
