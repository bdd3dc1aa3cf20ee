package service

import (
	"sos-service/internal/messaging"
	"sos-service/internal/model"
	"sos-service/internal/repository"

	"github.com/google/uuid"
)

type NotificationService struct {
	notificationRepo *repository.NotificationRepository
	hub              *messaging.Hub
}

func NewNotificationService(notificationRepo *repository.NotificationRepository, hub *messaging.Hub) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		hub:              hub,
	}
}

func (s *NotificationService) GetUserNotifications(userID uuid.UUID) (*model.NotificationListResponse, error) {
	notifications, err := s.notificationRepo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}

	// Return empty list instead of null
	if notifications == nil {
		notifications = []model.Notification{}
	}

	unreadCount, err := s.notificationRepo.GetUnreadCount(userID)
	if err != nil {
		return nil, err
	}

	return &model.NotificationListResponse{
		Notifications: notifications,
		UnreadCount:   unreadCount,
	}, nil
}

func (s *NotificationService) MarkAsRead(notificationID, userID uuid.UUID) error {
	return s.notificationRepo.MarkAsRead(notificationID, userID)
}

func (s *NotificationService) MarkAllAsRead(userID uuid.UUID) error {
	return s.notificationRepo.MarkAllAsRead(userID)
}

func (s *NotificationService) RegisterClient(userID uuid.UUID) *messaging.Client {
	return s.hub.RegisterClient(userID)
}

func (s *NotificationService) UnregisterClient(client *messaging.Client) {
	s.hub.UnregisterClient(client)
}
