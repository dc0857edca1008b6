package worker

import (
	"context"
	"log/slog"

	"github.com/joao-fontenele/giftshop/internal/scheduler"
)

type FeedbackSender interface {
	SendFeedbackRequest(ctx context.Context, orderNumber string) error
}

// Jobs dispatches delayed jobs claimed from the scheduler queue.
type Jobs struct {
	feedback FeedbackSender
	logger   *slog.Logger
}

func NewJobs(feedback FeedbackSender, logger *slog.Logger) *Jobs {
	return &Jobs{feedback: feedback, logger: logger}
}

func (j *Jobs) Handle(ctx context.Context, job scheduler.Job) error {
	switch job.Kind {
	case scheduler.JobFeedbackEmail:
		return j.feedback.SendFeedbackRequest(ctx, job.Ref)
	default:
		j.logger.Warn("dropping job of unknown kind", "kind", job.Kind, "ref", job.Ref)
		return nil
	}
}
