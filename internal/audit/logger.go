// Package audit writes one JSON line per auditable event to stdout.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/museai/lora-api/internal/logger"
	"github.com/museai/lora-api/internal/types"
)

type Context struct {
	JobID   *string
	ModelID *string
}

func newMessage(c Context, evt EventType, disposition Disposition) Message {
	return Message{
		JobID:         c.JobID,
		ModelID:       c.ModelID,
		LogContext:    logContext,
		SchemaVersion: schemaVersion,
		Disposition:   disposition,
		Type:          evt,
		Timestamp:     UnixMilli(time.Now().UTC().UnixMilli()),
	}
}

func emit(evt EventType, event any) {
	evtStr, err := json.Marshal(event)
	if err != nil {
		logger.Logger.Error("could not serialize audit event", "eventType", evt, "error", err)
		return
	}

	fmt.Println(string(evtStr))
}

func LogJobSubmitted(c Context, cfg types.TrainingConfig) {
	event := JobSubmitted{}
	event.Message = newMessage(c, EvtJobSubmitted, DispositionNeutral)

	event.Event.ModelName = cfg.ModelName
	event.Event.TrainingSteps = cfg.TrainingSteps
	event.Event.LearningRate = cfg.LearningRate
	event.Event.Resolution = cfg.Resolution
	event.Event.ImageCount = cfg.ImageCount

	emit(EvtJobSubmitted, event)
}

func LogJobFinished(c Context, status string, message string, duration time.Duration) {
	disposition := DispositionBad
	if status == "completed" {
		disposition = DispositionGood
	}

	event := JobFinished{}
	event.Message = newMessage(c, EvtJobFinished, disposition)

	event.Event.Status = status
	event.Event.Message = message
	event.Event.DurationMS = duration.Milliseconds()

	emit(EvtJobFinished, event)
}

func LogModelDeleted(c Context) {
	event := ModelDeleted{}
	event.Message = newMessage(c, EvtModelDeleted, DispositionNeutral)

	emit(EvtModelDeleted, event)
}

func LogImageGenerated(c Context, imageID string, seed *int64, width int, height int) {
	event := ImageGenerated{}
	event.Message = newMessage(c, EvtImageGenerated, DispositionGood)

	event.Event.ImageID = imageID
	event.Event.Seed = seed
	event.Event.Width = width
	event.Event.Height = height

	emit(EvtImageGenerated, event)
}

func LogFileArchived(
	c Context,
	bucketName string,
	objectName string,
	fileArchived ArchivedFile,
	fileArchivedEntity FileArchivedEntity,
	entityID string,
) {
	event := FileArchived{}
	event.Message = newMessage(c, EvtFileArchived, DispositionNeutral)

	event.Event.BucketName = bucketName
	event.Event.ObjectName = objectName
	event.Event.FileArchived = fileArchived
	event.Event.Entity = fileArchivedEntity
	event.Event.EntityID = entityID

	emit(EvtFileArchived, event)
}
