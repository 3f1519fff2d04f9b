package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Alert lifecycle events
	EventAlertCreated      EventType = "alert.created"
	EventAlertAcknowledged EventType = "alert.acknowledged"
	EventAlertFailed       EventType = "alert.failed"

	// Detection events
	EventDetectionCompleted EventType = "detection.completed"
	EventScanCompleted      EventType = "detection.scan_completed"

	// Configuration events
	EventConfigLoaded EventType = "config.loaded"
	EventConfigReload EventType = "config.reloaded"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultNoop    Result = "noop"
	ResultPending Result = "pending"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	User     string `json:"user,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`

	// Subject of the event: an alert ID or a metric name
	Resource     string `json:"resource,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`

	Action      string                 `json:"action,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithUser sets the user who triggered the event
func (e *Event) WithUser(user string) *Event {
	e.User = user
	return e
}

// WithResource sets the subject of the event
func (e *Event) WithResource(resource, resourceType string) *Event {
	e.Resource = resource
	e.ResourceType = resourceType
	return e
}

func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError records err and marks the event failed. A nil err is ignored.
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
