package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID = "user_id"

	// Push channel
	FieldConnID         = "conn_id"
	FieldEvent          = "event"
	FieldConversationID = "conversation_id"
	FieldReceiverID     = "receiver_id"

	FieldService = "service"
)
