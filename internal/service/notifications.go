package service

import (
	"context"
	"strconv"
	"time"

	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/provider"
	"go.uber.org/zap"
)

// Templates understood by the notification service.
const (
	TemplatePlanExecuted      = "sip_execution_success"
	TemplatePlanCompleted     = "sip_completed"
	TemplatePlanFailed        = "sip_execution_failed"
	TemplateWebhookTestResult = "webhook_test_result"
)

const (
	planRetryMessage   = "We will retry this installment automatically."
	planSupportMessage = "The plan has been stopped after repeated failures. Please contact support."
)

// OwnerNotifier decides what to tell an owner; delivery is the MessageSender's job.
// Send failures are logged and never fail the job that triggered them.
type OwnerNotifier struct {
	sender provider.MessageSender
	logger *zap.Logger
}

func NewOwnerNotifier(sender provider.MessageSender, logger *zap.Logger) *OwnerNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OwnerNotifier{sender: sender, logger: logger}
}

func (n *OwnerNotifier) PlanExecuted(ctx context.Context, plan *domain.Plan, entry *domain.ExecutionLog, reference string) {
	data := map[string]string{
		"planId":                plan.ID,
		"instrumentId":          plan.InstrumentID,
		"amount":                plan.Amount.StringFixed(2),
		"installment":           strconv.Itoa(entry.UnitIndex),
		"totalInstallments":     strconv.Itoa(plan.TotalInstallments),
		"completedInstallments": strconv.Itoa(plan.CompletedInstallments),
		"orderReference":        reference,
	}
	if entry.Price != nil {
		data["price"] = entry.Price.String()
	}
	if entry.Units != nil {
		data["units"] = entry.Units.String()
	}
	if plan.NextDueDate != nil {
		data["nextDueDate"] = plan.NextDueDate.Format(time.DateOnly)
	}
	n.send(ctx, plan.OwnerID, TemplatePlanExecuted, data)
}

func (n *OwnerNotifier) PlanCompleted(ctx context.Context, plan *domain.Plan) {
	n.send(ctx, plan.OwnerID, TemplatePlanCompleted, map[string]string{
		"planId":            plan.ID,
		"instrumentId":      plan.InstrumentID,
		"totalInstallments": strconv.Itoa(plan.TotalInstallments),
		"totalInvested":     plan.TotalInvested.StringFixed(2),
		"totalUnits":        plan.TotalUnits.String(),
		"currentValue":      plan.CurrentValue.StringFixed(2),
	})
}

// PlanFailed words the message by whether the plan will be retried.
func (n *OwnerNotifier) PlanFailed(ctx context.Context, plan *domain.Plan, reason string, retriesLeft int) {
	message := planRetryMessage
	if retriesLeft == 0 {
		message = planSupportMessage
	}
	n.send(ctx, plan.OwnerID, TemplatePlanFailed, map[string]string{
		"planId":       plan.ID,
		"instrumentId": plan.InstrumentID,
		"amount":       plan.Amount.StringFixed(2),
		"reason":       reason,
		"retriesLeft":  strconv.Itoa(retriesLeft),
		"message":      message,
	})
}

func (n *OwnerNotifier) WebhookTested(ctx context.Context, endpoint *domain.Endpoint, delivery *domain.Delivery) {
	data := map[string]string{
		"endpointId": endpoint.ID,
		"url":        endpoint.URL,
		"deliveryId": delivery.ID,
		"status":     delivery.Status.String(),
	}
	if delivery.LastStatusCode != nil {
		data["statusCode"] = strconv.Itoa(*delivery.LastStatusCode)
	}
	if delivery.LastError != nil {
		data["error"] = *delivery.LastError
	}
	n.send(ctx, endpoint.OwnerID, TemplateWebhookTestResult, data)
}

func (n *OwnerNotifier) send(ctx context.Context, ownerID, template string, data map[string]string) {
	if n == nil || n.sender == nil {
		return
	}
	err := n.sender.SendMessage(ctx, provider.Message{
		Recipient: ownerID,
		Template:  template,
		Channel:   provider.ChannelEmail,
		Data:      data,
	})
	if err != nil {
		n.logger.Warn("failed to send owner notification",
			zap.String("ownerId", ownerID),
			zap.String("template", template),
			zap.Error(err),
		)
	}
}
