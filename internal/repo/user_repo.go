// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/table-booking-gateway/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// FindUser fetches the user registered under (channel, identifier).
func FindUser(ctx context.Context, db *gorm.DB, channel, identifier string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("channel = ? AND channel_identifier = ?", channel, identifier).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser returns the user for (channel, identifier), inserting it on
// first contact. Concurrent callers racing on the same identifier converge on
// a single row through the unique index.
func GetOrCreateUser(ctx context.Context, db *gorm.DB, channel, identifier string) (*domain.User, error) {
	u, err := FindUser(ctx, db, channel, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	fresh := &domain.User{Channel: channel, ChannelIdentifier: identifier}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(fresh).Error; err != nil {
		return nil, err
	}
	return FindUser(ctx, db, channel, identifier)
}
