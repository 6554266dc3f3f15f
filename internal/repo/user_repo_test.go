package repo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tbourn/table-booking-gateway/internal/domain"
)

func TestGetOrCreateUser_CreatesOnceAndReuses(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()

	u1, err := GetOrCreateUser(ctx, db, domain.ChannelWhatsApp, "15550001111")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if u1.ID == 0 || u1.ChannelIdentifier != "15550001111" || u1.Channel != domain.ChannelWhatsApp {
		t.Fatalf("unexpected user: %+v", u1)
	}

	u2, err := GetOrCreateUser(ctx, db, domain.ChannelWhatsApp, "15550001111")
	if err != nil {
		t.Fatalf("GetOrCreateUser second call: %v", err)
	}
	if u2.ID != u1.ID {
		t.Fatalf("expected same user id, got %d and %d", u1.ID, u2.ID)
	}

	var n int64
	db.Model(&domain.User{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly 1 user row, got %d", n)
	}
}

func TestGetOrCreateUser_ConcurrentFirstContact(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uint, 6)
	errs := make([]error, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := GetOrCreateUser(ctx, db, domain.ChannelWhatsApp, "15550002222")
			errs[i] = err
			if u != nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("workers resolved different users: %v", ids)
		}
	}
}

func TestFindUser_NotFound(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	_, err := FindUser(context.Background(), db, domain.ChannelWhatsApp, "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
