package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
)

// FCM accepts at most this many tokens per multicast
const maxMulticastTokens = 500

// TokenStore resolves the push tokens of a company's users
type TokenStore interface {
	ListFCMTokensByRole(ctx context.Context, companyID, role string) ([]models.FCMToken, error)
	DeleteFCMTokens(ctx context.Context, tokens []string) error
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMService pushes engine events to registered devices through Firebase Cloud Messaging
type FCMService struct {
	client multicastSender
	tokens TokenStore
	logger *zap.Logger

	// Reports whether a send error means the token will never work again
	stale func(error) bool
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(ctx context.Context, credentialsFile string, tokens TokenStore, logger *zap.Logger) (*FCMService, error) {
	return newFCMService(ctx, option.WithCredentialsFile(credentialsFile), tokens, logger)
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
func NewFCMServiceFromBase64(ctx context.Context, credentialsBase64 string, tokens TokenStore, logger *zap.Logger) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(ctx, option.WithCredentialsJSON(credentialsJSON), tokens, logger)
}

func newFCMService(ctx context.Context, opt option.ClientOption, tokens TokenStore, logger *zap.Logger) (*FCMService, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return newFCMServiceWithClient(client, tokens, logger), nil
}

func newFCMServiceWithClient(client multicastSender, tokens TokenStore, logger *zap.Logger) *FCMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FCMService{
		client: client,
		tokens: tokens,
		logger: logger.Named("fcm"),
		stale:  messaging.IsUnregistered,
	}
}

func (s *FCMService) Name() string { return "fcm" }

// Notify sends the event to every device of the company's users with the given role.
// Tokens FCM reports as unregistered are deleted.
func (s *FCMService) Notify(ctx context.Context, companyID, recipientRole string, event notify.Event) error {
	tokens, err := s.tokens.ListFCMTokensByRole(ctx, companyID, recipientRole)
	if err != nil {
		return fmt.Errorf("error loading FCM tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	values := make([]string, 0, len(tokens))
	for _, t := range tokens {
		values = append(values, t.Token)
	}

	data, err := eventData(event)
	if err != nil {
		return err
	}

	var (
		errs    []error
		expired []string
		sent    int
	)
	for start := 0; start < len(values); start += maxMulticastTokens {
		end := min(start+maxMulticastTokens, len(values))
		chunk := values[start:end]

		response, err := s.client.SendEachForMulticast(ctx, buildMulticast(chunk, event, data))
		if err != nil {
			errs = append(errs, fmt.Errorf("error sending multicast message: %w", err))
			continue
		}
		sent += response.SuccessCount
		for i, r := range response.Responses {
			if r == nil || r.Success || i >= len(chunk) {
				continue
			}
			if s.stale(r.Error) {
				expired = append(expired, chunk[i])
			}
		}
	}

	if len(expired) > 0 {
		if err := s.tokens.DeleteFCMTokens(ctx, expired); err != nil {
			errs = append(errs, fmt.Errorf("error deleting expired FCM tokens: %w", err))
		} else {
			s.logger.Info("🗑️ Removed unregistered FCM tokens", zap.Int("count", len(expired)))
		}
	}

	s.logger.Debug("✅ Multicast sent",
		zap.String("type", event.Type),
		zap.String("company_id", companyID),
		zap.Int("tokens", len(values)),
		zap.Int("success", sent))
	return errors.Join(errs...)
}

// eventData flattens an event into the string map FCM requires
func eventData(event notify.Event) (map[string]string, error) {
	data := map[string]string{
		"type":        event.Type,
		"company_id":  event.CompanyID,
		"occurred_at": strconv.FormatInt(event.OccurredAt, 10),
	}
	if event.DriverID != "" {
		data["driver_id"] = event.DriverID
	}
	if event.Data != nil {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return nil, fmt.Errorf("error encoding FCM payload: %w", err)
		}
		data["payload"] = string(payload)
	}
	return data, nil
}

func buildMulticast(tokens []string, event notify.Event, data map[string]string) *messaging.MulticastMessage {
	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
	if event.Title != "" {
		message.Notification = &messaging.Notification{
			Title: event.Title,
			Body:  event.Body,
		}
	}
	return message
}
