package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HistoryService serves read-only views of a channel user's conversation.
type HistoryService struct {
	DB      *gorm.DB
	Channel string
}

// NewHistoryService returns a HistoryService for the WhatsApp channel.
func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{DB: db, Channel: domain.ChannelWhatsApp}
}

// HistoryStats is the cheap summary used to build ETags.
type HistoryStats struct {
	UserID   uint
	Count    int64
	LatestAt *time.Time
}

func (s *HistoryService) user(ctx context.Context, identifier string) (*domain.User, error) {
	u, err := repo.FindUser(ctx, s.DB, s.Channel, identifier)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return u, nil
}

// Stats returns the message count and latest timestamp for identifier.
func (s *HistoryService) Stats(ctx context.Context, identifier string) (HistoryStats, error) {
	u, err := s.user(ctx, identifier)
	if err != nil {
		return HistoryStats{}, err
	}
	count, latest, err := repo.MessagesStats(ctx, s.DB, u.ID)
	if err != nil {
		return HistoryStats{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return HistoryStats{UserID: u.ID, Count: count, LatestAt: latest}, nil
}

// ListPage returns one oldest-first page of a user's messages and the total.
func (s *HistoryService) ListPage(ctx context.Context, identifier string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	u, err := s.user(ctx, identifier)
	if err != nil {
		return nil, 0, err
	}
	total, err := repo.CountMessages(ctx, s.DB, u.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, u.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return items, total, nil
}
