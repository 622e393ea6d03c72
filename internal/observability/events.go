package observability

// Broker header names shared by the publisher and the consumer.
const (
	HeaderRequestID = "x-request-id"
	HeaderTraceID   = "trace_id"
	HeaderEvent     = "x-event"
)

// BuildHeaders returns the broker headers for one published event. Empty
// values are left out.
func BuildHeaders(requestID, traceID, routingKey string) map[string]string {
	headers := make(map[string]string, 3)
	for name, value := range map[string]string{
		HeaderRequestID: requestID,
		HeaderTraceID:   traceID,
		HeaderEvent:     routingKey,
	} {
		if value != "" {
			headers[name] = value
		}
	}
	return headers
}
