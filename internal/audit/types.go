package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Model lifecycle events
	EventModelTrained     EventType = "model.trained"
	EventModelTrainFailed EventType = "model.train_failed"
	EventModelLoaded      EventType = "model.loaded"

	// Detection events
	EventDetectionCompleted EventType = "detection.completed"
	EventAnomalyRecorded    EventType = "anomaly.recorded"

	// Recommendation events
	EventRecommendationCreated     EventType = "recommendation.created"
	EventRecommendationRegenerated EventType = "recommendation.regenerated"
	EventBatchCompleted            EventType = "batch.completed"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPartial Result = "partial"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Subject of the event
	PlotID     int64  `json:"plot_id,omitempty"`
	SensorType string `json:"sensor_type,omitempty"`
	Resource   string `json:"resource,omitempty"`

	Action      string                 `json:"action,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithPlot sets the plot the event concerns
func (e *Event) WithPlot(plotID int64) *Event {
	e.PlotID = plotID
	return e
}

// WithSensorType sets the sensor stream the event concerns
func (e *Event) WithSensorType(sensorType string) *Event {
	e.SensorType = sensorType
	return e
}

// WithResource sets the record being acted upon, e.g. "anomaly/42"
func (e *Event) WithResource(resource string) *Event {
	e.Resource = resource
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

// WithError sets error information and marks the event failed
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

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
