package events

// Source is the CloudEvents source of everything this service publishes.
const Source = "service-sitter-booking"

// Topics.
const (
	TopicBookingEvents = "booking.events"
	TopicGatewayEvents = "payment.gateway.events"
)

// Event types published on TopicBookingEvents.
const (
	BookingTransitioned         = "booking.transitioned"
	BookingConfirmationReminder = "booking.confirmation_reminder"
)

// Event types consumed from TopicGatewayEvents. The webhook relay publishes
// them when the processor reports a charge outcome asynchronously.
const (
	GatewayCaptureSucceeded = "payment.capture.succeeded"
	GatewayCaptureFailed    = "payment.capture.failed"
)
