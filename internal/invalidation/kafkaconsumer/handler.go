package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler applies remote saves from one claim in offset order. An
// offset is marked only once its event was applied or deliberately skipped,
// so a failed reload is redelivered after the next rebalance.
type groupHandler struct {
	process messageProcessor
	logger  *slog.Logger
}

func (h *groupHandler) log() *slog.Logger {
	if h.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log().Info("invalidation partitions assigned", "claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.log().Debug("invalidation partitions released", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim %s/%d: %w", claim.Topic(), claim.Partition(), ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				h.log().Warn("remote save not applied, offset left unmarked",
					"partition", msg.Partition, "offset", msg.Offset, "error", err)
				return fmt.Errorf("apply remote save (partition=%d, offset=%d): %w", msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
