package service

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FCMService sends push notifications via Firebase Cloud Messaging. Student
// apps subscribe to the topic of their student id.
type FCMService struct {
	client *messaging.Client
	logger *zap.Logger
}

// NewFCMService returns nil if Firebase is not configured or fails to start;
// a nil *FCMService is safe to use and sends nothing.
func NewFCMService(ctx context.Context, serviceAccountPath string, logger *zap.Logger) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		logger.Error("init firebase app", zap.Error(err))
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		logger.Error("init firebase messaging", zap.Error(err))
		return nil
	}
	return &FCMService{client: client, logger: logger.Named("fcm")}
}

// SendToTopic pushes a notification with a string data payload to a topic.
func (s *FCMService) SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error {
	if s == nil || topic == "" {
		return nil
	}
	msg := &messaging.Message{
		Topic:        topic,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
		Android: &messaging.AndroidConfig{
			Priority:     "high",
			Notification: &messaging.AndroidNotification{Sound: "default"},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		s.logger.Warn("push failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}
