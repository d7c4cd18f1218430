package events

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

const (
	HeaderEventID       = "event_id"
	HeaderOrderID       = "order_id"
	HeaderTransactionID = "transaction_id"
	HeaderSource        = "source"
	HeaderStatus        = "status"
	HeaderDeadLetter    = "dead_letter_reason"
)

func eventHeaders(e *Event) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventID, Value: []byte(e.ID)},
		{Key: HeaderOrderID, Value: []byte(e.OrderID)},
		{Key: HeaderTransactionID, Value: []byte(e.TransactionID)},
		{Key: HeaderSource, Value: []byte(e.Source)},
		{Key: HeaderStatus, Value: []byte(e.Status)},
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

func headerMap(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Key] = string(h.Value)
	}
	return m
}

// HeaderCarrier adapts Kafka headers to the OpenTelemetry propagator.
type HeaderCarrier struct {
	Headers *[]kafka.Header
}

var _ propagation.TextMapCarrier = HeaderCarrier{}

func (c HeaderCarrier) Get(key string) string {
	return HeaderValue(*c.Headers, key)
}

func (c HeaderCarrier) Set(key, value string) {
	hs := *c.Headers
	for i := range hs {
		if hs[i].Key == key {
			hs[i].Value = []byte(value)
			return
		}
	}
	*c.Headers = append(hs, kafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.Headers))
	for _, h := range *c.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
