package messaging

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestMessageCarrier(t *testing.T) {
	msg := &kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("order.created")}}}
	c := NewMessageCarrier(msg)

	c.Set("traceparent", "00-abc-01")
	c.Set("traceparent", "00-def-01")

	assert.Equal(t, "00-def-01", c.Get("traceparent"))
	assert.Equal(t, "order.created", c.Get(HeaderEventType))
	assert.Empty(t, c.Get("missing"))
	assert.Equal(t, []string{HeaderEventType, "traceparent"}, c.Keys())
	assert.Len(t, msg.Headers, 2)
}
