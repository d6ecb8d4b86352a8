// internal/services/notification_service.go
package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

// NotificationService raises notifications for the arbitration and admin desk.
type NotificationService struct {
	store store.Store
}

func NewNotificationService(st store.Store) *NotificationService {
	return &NotificationService{store: st}
}

func (s *NotificationService) create(ctx context.Context, n *models.AdminNotification) error {
	if err := store.From(ctx, s.store).Admin().CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"type":        n.Type,
		"priority":    n.Priority,
		"resource_id": n.RelatedResourceID,
	}).Info("Admin notification created")
	return nil
}

func (s *NotificationService) SendDisputeOpenedNotification(ctx context.Context, dispute *models.Dispute) error {
	return s.create(ctx, &models.AdminNotification{
		Type:                models.NotificationDisputeOpened,
		Title:               "New Dispute",
		Message:             fmt.Sprintf("Dispute on stream %s opened: %s", dispute.StreamID, dispute.Reason),
		Priority:            models.PriorityMedium,
		RelatedResourceType: "dispute",
		RelatedResourceID:   &dispute.ID,
	})
}

func (s *NotificationService) SendDisputeOverdueNotification(ctx context.Context, dispute *models.Dispute) error {
	return s.create(ctx, &models.AdminNotification{
		Type:                models.NotificationDisputeOverdue,
		Title:               "Dispute Past Deadline",
		Message:             fmt.Sprintf("Dispute %s on stream %s passed its deadline %s without resolution", dispute.ID, dispute.StreamID, dispute.Deadline.Format("2006-01-02 15:04 MST")),
		Priority:            models.PriorityHigh,
		RelatedResourceType: "dispute",
		RelatedResourceID:   &dispute.ID,
	})
}

func (s *NotificationService) List(ctx context.Context, page store.Page) ([]models.AdminNotification, int64, error) {
	return s.store.Admin().ListNotifications(ctx, page)
}
