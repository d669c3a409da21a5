package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for market-making telemetry, following OpenTelemetry
// naming conventions: namespace.attribute_name.
const (
	AttrSymbol      = attribute.Key("symbol")
	AttrVenue       = attribute.Key("venue")
	AttrSide        = attribute.Key("side")
	AttrEndpoint    = attribute.Key("endpoint")
	AttrReason      = attribute.Key("reason")
	AttrResult      = attribute.Key("result")
	AttrEnvironment = attribute.Key("environment")
)

// OrderAttributes returns common attributes for order metrics.
func OrderAttributes(symbol, side, endpoint string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSymbol.String(symbol),
		AttrSide.String(side),
		AttrEndpoint.String(endpoint),
	}
}

// BookAttributes returns common attributes for order-book metrics.
func BookAttributes(symbol, venue string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSymbol.String(symbol),
		AttrVenue.String(venue),
	}
}
