package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/museai/lora-api/internal/intake"
)

const maxParallelDecodes = 4

// decodeImages writes every payload to the intake directory. The first failure
// cancels the remaining decodes and is returned.
func (s *Supervisor) decodeImages(ctx context.Context, jobID string, images []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Supervisor.decodeImages", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.Int("images", len(images)),
	))
	defer span.End()

	paths := make([]string, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDecodes)
	for i, payload := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			path, err := s.intake.Decode(gctx, payload, intake.ImageFilename(jobID, i))
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode images")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "decoded images")
	return paths, nil
}
