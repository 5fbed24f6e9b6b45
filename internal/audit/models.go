package audit

var schemaVersion = "0.1.0"
var logContext = "audit"

type Disposition string

const (
	DispositionNeutral Disposition = "neutral"
	DispositionGood    Disposition = "good"
	DispositionBad     Disposition = "bad"
)

type ArchivedFile string

const (
	FileWeights  ArchivedFile = "weights"
	FileMetadata ArchivedFile = "metadata"
	FileImage    ArchivedFile = "image"
)

type FileArchivedEntity string

const (
	EntityModel FileArchivedEntity = "model"
	EntityImage FileArchivedEntity = "image"
)

type EventType string

const (
	EvtJobSubmitted   EventType = "job_submitted"
	EvtJobFinished    EventType = "job_finished"
	EvtModelDeleted   EventType = "model_deleted"
	EvtImageGenerated EventType = "image_generated"
	EvtFileArchived   EventType = "file_archived"
)

// Milliseconds since the unix epoch
type UnixMilli int64

type Message struct {
	JobID         *string     `json:"job_id"`
	ModelID       *string     `json:"model_id"`
	LogContext    string      `json:"log_context" validate:"required"`
	SchemaVersion string      `json:"version"     validate:"required"`
	Disposition   Disposition `json:"disposition" validate:"required"`
	Type          EventType   `json:"event_type"  validate:"required"`

	Timestamp UnixMilli `json:"timestamp" validate:"required"`
}

type JobSubmittedEvent struct {
	ModelName     string  `json:"model_name"     validate:"required"`
	TrainingSteps int     `json:"training_steps" validate:"required"`
	LearningRate  float64 `json:"learning_rate"  validate:"required"`
	Resolution    int     `json:"resolution"     validate:"required"`
	ImageCount    int     `json:"image_count"    validate:"required"`
}

type JobSubmitted struct {
	Event JobSubmittedEvent `json:"event" validate:"required"`
	Message
}

type JobFinishedEvent struct {
	Status     string `json:"status"      validate:"required,oneof=completed failed"`
	Message    string `json:"message"`
	DurationMS int64  `json:"duration_ms"`
}

type JobFinished struct {
	Event JobFinishedEvent `json:"event" validate:"required"`
	Message
}

type ModelDeleted struct {
	Message
}

type ImageGeneratedEvent struct {
	ImageID string `json:"image_id" validate:"required"`
	Seed    *int64 `json:"seed"`
	Width   int    `json:"width"    validate:"required"`
	Height  int    `json:"height"   validate:"required"`
}

type ImageGenerated struct {
	Event ImageGeneratedEvent `json:"event" validate:"required"`
	Message
}

type FileArchivedEvent struct {
	BucketName   string             `json:"bucket_name"   validate:"required"`
	ObjectName   string             `json:"object_name"   validate:"required"`
	FileArchived ArchivedFile       `json:"file_archived" validate:"required"`
	Entity       FileArchivedEntity `json:"entity"        validate:"required"`
	EntityID     string             `json:"entity_id"     validate:"required"` // model ID or image ID
}

type FileArchived struct {
	Event FileArchivedEvent `json:"event" validate:"required"`
	Message
}
