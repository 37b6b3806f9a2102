package batch

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"

	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
	"enrollsync/pkg/tracing"
)

// IntakeService files every inbound enrollment event into the open batch of
// its key. Events that cannot be parsed have no key; they get their terminal
// outcome right away.
type IntakeService struct {
	repo      Repository
	malformed notification.Dropper
	logger    logger.Logger
}

func NewIntakeService(repo Repository, malformed notification.Dropper, log logger.Logger) *IntakeService {
	return &IntakeService{repo: repo, malformed: malformed, logger: log}
}

// Accept is the handler for the inbound topic. Storage errors are returned
// so the broker retries the message.
func (s *IntakeService) Accept(ctx context.Context, msg models.MessageEnvelope) error {
	ctx, span := tracing.GetTracer("intake").Start(ctx, "intake.accept")
	defer span.End()

	start := time.Now()
	raw := notification.Raw{
		Headers:    msg.Headers,
		Body:       msg.Body,
		ReceivedAt: msg.Timestamp,
	}

	v, err := notification.Parse(raw)
	if err == nil {
		err = models.ValidateMessageEnvelope(&msg)
	}
	if err != nil {
		s.logger.WarnwCtx(ctx, "Rejecting malformed enrollment event",
			"message_id", msg.ID,
			"error", err,
		)
		raw.TransactionID = malformedTransactionID(msg)
		e := notification.NewMalformed(raw, 0)
		if derr := s.malformed.Dropped(ctx, e); derr != nil {
			metrics.ObserveIntakeDuration(time.Since(start), "error")
			return derr
		}
		metrics.IntakeMessagesTotal.WithLabelValues("malformed").Inc()
		metrics.ObserveIntakeDuration(time.Since(start), "malformed")
		return nil
	}

	// The stored headers carry the intake span so the batch run can link
	// back to it.
	headers := maps.Clone(msg.Headers)
	if headers == nil {
		headers = make(map[string]string, 2)
	}
	tracing.InjectIntoMap(ctx, headers)

	b, appended, err := s.repo.Append(ctx, KeyOf(v), Transaction{
		MessageID: msg.ID,
		Headers:   headers,
		Body:      msg.Body,
		EventTime: v.SubmittedAt,
	})
	if err != nil {
		span.RecordError(err)
		metrics.ObserveIntakeDuration(time.Since(start), "error")
		return err
	}

	status := "accepted"
	if !appended {
		status = "duplicate"
	}
	metrics.IntakeMessagesTotal.WithLabelValues(status).Inc()
	metrics.ObserveIntakeDuration(time.Since(start), status)

	s.logger.DebugwCtx(ctx, "Enrollment event filed",
		"message_id", msg.ID,
		"batch_id", b.ID,
		"hbx_enrollment_id", v.HbxEnrollmentID,
		"enrollment_action", v.Action.Name(),
		"status", status,
	)
	return nil
}

var malformedNamespace = uuid.MustParse("3b9e7c2a-1f4d-5a6b-8c0e-7d2f9a4b6e1c")

// malformedTransactionID keys the audit record of a message that never
// became a transaction. It depends only on the message, so a redelivery
// lands on the record written the first time.
func malformedTransactionID(msg models.MessageEnvelope) string {
	return uuid.NewSHA1(malformedNamespace, []byte(msg.ID+"\x00"+msg.Body)).String()
}
