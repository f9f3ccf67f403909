package pipeline

import (
	"context"
	"fmt"

	"messaging-service/apperr"
	"messaging-service/event"
	"messaging-service/event/listener"
)

// AttachmentDeleter is the part of the store layer the worker needs.
type AttachmentDeleter interface {
	DeleteForMessage(ctx context.Context, messageID string) error
}

// Handlers maps the attachments queue actions to the processor and the
// store layer.
func Handlers(p *Processor, attachments AttachmentDeleter) listener.Handlers {
	return listener.Handlers{
		event.ActionObjectCreated: func(ctx context.Context, d event.Delivery) error {
			var ev event.ObjectCreated
			if err := d.Decode(&ev); err != nil {
				return err
			}
			outcome, err := p.Process(ctx, ev.Bucket, ev.Path)
			if apperr.Is(err, apperr.KindUpstream) {
				return fmt.Errorf("%w: %v", listener.ErrRetry, err)
			}
			if err == nil {
				p.log.Info().
					Str("path", ev.Path).
					Str("attachment_id", outcome.AttachmentID).
					Interface("stages", outcome.Stages).
					Msg("attachment processed")
			}
			return err
		},
		event.ActionAttachmentDelete: func(ctx context.Context, d event.Delivery) error {
			var ev event.AttachmentDelete
			if err := d.Decode(&ev); err != nil {
				return err
			}
			return attachments.DeleteForMessage(ctx, ev.MessageID)
		},
	}
}
