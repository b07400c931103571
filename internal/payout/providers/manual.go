package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallbiznis/creatorpay/internal/payout/domain"
	"go.uber.org/zap"
)

// Manual is the default transfer provider. It issues a local reference and
// leaves settlement to an operator confirming through the API, which keeps
// the full payout lifecycle exercisable without an external rail.
type Manual struct {
	log *zap.Logger
}

func NewManual(log *zap.Logger) *Manual {
	return &Manual{log: log.Named("payout.provider.manual")}
}

func (m *Manual) Provider() string { return "manual" }

func (m *Manual) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	ref := fmt.Sprintf("manual_%s", uuid.NewString())

	m.log.Info("manual transfer initiated",
		zap.String("payout_id", req.PayoutID.String()),
		zap.String("recipient_id", req.RecipientID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency),
		zap.String("provider_ref", ref),
	)
	return ref, nil
}
