package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"cardwise-api/internal/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	dbPath := "./test_db_" + uuid.New().String() + ".db"
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	return db, func() {
		db.Close()
		os.Remove(dbPath)
	}
}

func TestFindCardsByNameSubstring_EscapesWildcards(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	plain := models.Card{ID: uuid.New().String(), Name: "Cash Rewards", Issuer: "BofA"}
	weird := models.Card{ID: uuid.New().String(), Name: "100% Back", Issuer: "Oddball"}
	for _, c := range []models.Card{plain, weird} {
		if err := db.UpsertCard(ctx, c); err != nil {
			t.Fatalf("Failed to seed card: %v", err)
		}
	}

	// A literal % in the query must not act as a LIKE wildcard
	got, err := db.FindCardsByNameSubstring(ctx, "0% b", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "100% Back" {
		t.Fatalf("Expected only the literal match, got %v", got)
	}

	got, err = db.FindCardsByNameSubstring(ctx, "%", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected bare %% to match only the card containing it, got %v", got)
	}
}

func TestInsertOwnership_Duplicate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	userID := uuid.New().String()
	if err := db.CreateUser(ctx, models.User{ID: userID, Email: "a@example.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	cardID := uuid.New().String()
	if err := db.UpsertCard(ctx, models.Card{ID: cardID, Name: "Card", Issuer: "Issuer"}); err != nil {
		t.Fatalf("Failed to create card: %v", err)
	}

	addedAt, err := db.InsertOwnership(ctx, userID, cardID)
	if err != nil {
		t.Fatalf("Failed to insert ownership: %v", err)
	}
	if addedAt.IsZero() {
		t.Fatal("Expected the stored timestamp back")
	}
	if !addedAt.Equal(addedAt.Truncate(time.Second)) {
		t.Errorf("Expected second precision, got %v", addedAt)
	}
	if _, err := db.InsertOwnership(ctx, userID, cardID); err != ErrDuplicate {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	u := models.User{ID: uuid.New().String(), Email: "dup@example.com", PasswordHash: "x"}
	if err := db.CreateUser(ctx, u); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	u.ID = uuid.New().String()
	if err := db.CreateUser(ctx, u); err != ErrDuplicate {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}
}

func TestListCards_Filters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cards := []models.Card{
		{ID: uuid.New().String(), Name: "A", Issuer: "Chase", Category: "travel"},
		{ID: uuid.New().String(), Name: "B", Issuer: "Chase", Category: "cashback"},
		{ID: uuid.New().String(), Name: "C", Issuer: "Amex", Category: "travel"},
	}
	for _, c := range cards {
		if err := db.UpsertCard(ctx, c); err != nil {
			t.Fatalf("Failed to seed card: %v", err)
		}
	}

	got, total, err := db.ListCards(ctx, ListCardsFilter{Issuer: "Chase", Limit: 10})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("Expected 2 Chase cards, got total=%d len=%d", total, len(got))
	}

	got, total, err = db.ListCards(ctx, ListCardsFilter{Issuer: "Chase", Category: "travel", Limit: 10})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if total != 1 || got[0].Name != "A" {
		t.Fatalf("Expected only card A, got %v", got)
	}
}
