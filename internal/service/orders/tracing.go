package orders

import "go.opentelemetry.io/otel/attribute"

func attrOrderID(id string) attribute.KeyValue {
	return attribute.String("shop.order_id", id)
}

func attrTargetStatus(status string) attribute.KeyValue {
	return attribute.String("shop.order.target_status", status)
}

func attrLines(n int) attribute.KeyValue {
	return attribute.Int("shop.order.lines", n)
}
