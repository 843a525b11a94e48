package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/alittlebroken/recipefinder-auth/pkg/kafka"

	"github.com/alittlebroken/recipefinder-auth/internal/domain"
)

// Kafka topic constants for auth domain events.
const (
	TopicUserRegistered = "auth.user.registered"
	TopicUserLoggedIn   = "auth.user.logged_in"
	TopicSessionRevoked = "auth.session.revoked"
)

// Aggregate type constant.
const AggregateTypeUser = "user"

// Source identifier for events originating from the auth service.
const SourceAuthService = "auth-service"

// UserRegisteredData is the payload for an auth.user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// UserLoggedInData is the payload for an auth.user.logged_in event.
type UserLoggedInData struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Superseded bool   `json:"superseded"`
}

// SessionRevokedData is the payload for an auth.session.revoked event.
type SessionRevokedData struct {
	UserID string `json:"user_id"`
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes an auth.user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}

	event, err := pkgkafka.NewEvent(TopicUserRegistered, user.ID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create auth.user.registered event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish auth.user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published auth.user.registered event",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return nil
}

// PublishUserLoggedIn publishes an auth.user.logged_in event. Superseded is
// true when the login replaced an existing session.
func (p *Producer) PublishUserLoggedIn(ctx context.Context, user *domain.User, superseded bool) error {
	data := UserLoggedInData{
		UserID:     user.ID,
		Username:   user.Username,
		Superseded: superseded,
	}

	event, err := pkgkafka.NewEvent(TopicUserLoggedIn, user.ID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create auth.user.logged_in event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserLoggedIn, event); err != nil {
		return fmt.Errorf("publish auth.user.logged_in event: %w", err)
	}

	p.logger.DebugContext(ctx, "published auth.user.logged_in event",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return nil
}

// PublishSessionRevoked publishes an auth.session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, userID string) error {
	data := SessionRevokedData{UserID: userID}

	event, err := pkgkafka.NewEvent(TopicSessionRevoked, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create auth.session.revoked event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicSessionRevoked, event); err != nil {
		return fmt.Errorf("publish auth.session.revoked event: %w", err)
	}

	p.logger.DebugContext(ctx, "published auth.session.revoked event",
		slog.String("user_id", userID),
	)

	return nil
}
