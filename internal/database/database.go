package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"cardwise-api/internal/models"
)

// Sentinel errors surfaced to the service layer, which maps them to the
// API error taxonomy.
var (
	ErrNotFound  = fmt.Errorf("database: not found")
	ErrDuplicate = fmt.Errorf("database: duplicate")
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			issuer TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			annual_fee_cents INTEGER NOT NULL DEFAULT 0,
			welcome_bonus TEXT NOT NULL DEFAULT '',
			benefits TEXT NOT NULL DEFAULT '[]',
			image_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reward_categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS card_rewards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			category_id INTEGER NOT NULL REFERENCES reward_categories(id) ON DELETE CASCADE,
			reward_rate TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS user_cards (
			user_id TEXT NOT NULL,
			card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, card_id)
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS missing_card_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			card_name TEXT NOT NULL,
			issuer TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_name ON cards(name)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_issuer ON cards(issuer)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_category ON cards(category)`,
		`CREATE INDEX IF NOT EXISTS idx_card_rewards_card ON card_rewards(card_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_cards_user ON user_cards(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// === Users ===

// CreateUser inserts a new account. Returns ErrDuplicate if the email is taken.
func (db *DB) CreateUser(ctx context.Context, user models.User) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByEmail looks up an account by email. Returns ErrNotFound when absent.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	var createdAt string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.CreatedAt = parseTimestamp(createdAt)
	return user, nil
}

// === Cards ===

// UpsertCard creates or updates a catalog card. Used by the curation path
// and by tests to seed fixtures.
func (db *DB) UpsertCard(ctx context.Context, card models.Card) error {
	benefitsJSON := serializeStringList(card.Benefits)

	query := `INSERT INTO cards (
		id, name, issuer, category, annual_fee_cents, welcome_bonus, benefits, image_url, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		issuer = excluded.issuer,
		category = excluded.category,
		annual_fee_cents = excluded.annual_fee_cents,
		welcome_bonus = excluded.welcome_bonus,
		benefits = excluded.benefits,
		image_url = excluded.image_url,
		updated_at = excluded.updated_at`

	_, err := db.conn.ExecContext(ctx, query,
		card.ID,
		card.Name,
		card.Issuer,
		card.Category,
		card.AnnualFeeCents,
		card.WelcomeBonus,
		benefitsJSON,
		card.ImageURL,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert card: %w", err)
	}
	return nil
}

// GetCardByID fetches a single card. Returns ErrNotFound for an unknown id.
func (db *DB) GetCardByID(ctx context.Context, id string) (models.Card, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, issuer, category, annual_fee_cents, welcome_bonus, benefits, image_url, created_at
		FROM cards WHERE id = ?`, id)

	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to query card: %w", err)
	}
	return card, nil
}

// ListCardsFilter narrows and pages the catalog listing.
type ListCardsFilter struct {
	Category string
	Issuer   string
	Offset   int
	Limit    int
}

// ListCards returns one page of catalog cards plus the unpaged total.
func (db *DB) ListCards(ctx context.Context, filter ListCardsFilter) ([]models.Card, int, error) {
	where := "1=1"
	args := []interface{}{}
	if filter.Category != "" {
		where += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Issuer != "" {
		where += " AND issuer = ?"
		args = append(args, filter.Issuer)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM cards WHERE " + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	query := `SELECT id, name, issuer, category, annual_fee_cents, welcome_bonus, benefits, image_url, created_at
		FROM cards WHERE ` + where + ` ORDER BY name ASC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, total, nil
}

// FindCardsByNameSubstring returns up to limit {id, name} rows whose name
// contains the query, case-insensitively. This is the storage-side
// pre-filter for autocomplete; final ranking happens in memory.
func (db *DB) FindCardsByNameSubstring(ctx context.Context, query string, limit int) ([]models.SearchCandidate, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name FROM cards WHERE LOWER(name) LIKE ? ESCAPE '\' ORDER BY name ASC LIMIT ?`,
		pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search cards: %w", err)
	}
	defer rows.Close()

	var candidates []models.SearchCandidate
	for rows.Next() {
		var c models.SearchCandidate
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan search candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search candidates: %w", err)
	}

	return candidates, nil
}

// === Reward categories and edges ===

// UpsertRewardCategory creates the category if needed and returns its id.
func (db *DB) UpsertRewardCategory(ctx context.Context, name string) (int64, error) {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reward_categories (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert reward category: %w", err)
	}

	var id int64
	err = db.conn.QueryRowContext(ctx,
		`SELECT id FROM reward_categories WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to query reward category id: %w", err)
	}
	return id, nil
}

// ListRewardCategoryNames enumerates every known reward category.
func (db *DB) ListRewardCategoryNames(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT name FROM reward_categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan reward category: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward categories: %w", err)
	}

	return names, nil
}

// InsertRewardEdge attaches a reward rate for a card in a category.
// A card may carry multiple edges for the same category (time-boxed promos);
// readers dedup by keeping the highest rate.
func (db *DB) InsertRewardEdge(ctx context.Context, cardID, categoryName, rawRate, description string) error {
	categoryID, err := db.UpsertRewardCategory(ctx, categoryName)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO card_rewards (card_id, category_id, reward_rate, description) VALUES (?, ?, ?, ?)`,
		cardID, categoryID, rawRate, description)
	if err != nil {
		return fmt.Errorf("failed to insert reward edge: %w", err)
	}
	return nil
}

// ListRewardEdgesForCards returns every reward edge for the given card ids,
// joined with card name/issuer and category name. An empty id list yields
// an empty result without touching storage.
func (db *DB) ListRewardEdgesForCards(ctx context.Context, cardIDs []string) ([]models.RewardEdge, error) {
	if len(cardIDs) == 0 {
		return nil, nil
	}

	query := `SELECT r.card_id, c.name, c.issuer, rc.name, r.reward_rate, r.description
		FROM card_rewards r
		JOIN cards c ON c.id = r.card_id
		JOIN reward_categories rc ON rc.id = r.category_id
		WHERE r.card_id IN (`
	args := make([]interface{}, 0, len(cardIDs))
	for i, id := range cardIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward edges: %w", err)
	}
	defer rows.Close()

	var edges []models.RewardEdge
	for rows.Next() {
		var e models.RewardEdge
		if err := rows.Scan(&e.CardID, &e.CardName, &e.CardIssuer, &e.CategoryName, &e.RawRate, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan reward edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward edges: %w", err)
	}

	return edges, nil
}

// === Ownership ===

// ListOwnedCardIDs returns the distinct card ids saved by a user.
func (db *DB) ListOwnedCardIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT card_id FROM user_cards WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned card ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owned card id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owned card ids: %w", err)
	}

	return ids, nil
}

// InsertOwnership saves a card to a user's wallet. Returns ErrDuplicate if
// the edge already exists (the add is rejected, never silently doubled).
func (db *DB) InsertOwnership(ctx context.Context, userID, cardID string) (time.Time, error) {
	// RFC3339 storage keeps second precision; return the same truncated
	// value so callers echo exactly what later reads will see.
	addedAt := time.Now().UTC().Truncate(time.Second)
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_cards (user_id, card_id, created_at) VALUES (?, ?, ?)`,
		userID, cardID, addedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return time.Time{}, ErrDuplicate
		}
		return time.Time{}, fmt.Errorf("failed to insert ownership: %w", err)
	}
	return addedAt, nil
}

// DeleteOwnership removes a card from a user's wallet. Removing an absent
// edge is a no-op.
func (db *DB) DeleteOwnership(ctx context.Context, userID, cardID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_cards WHERE user_id = ? AND card_id = ?`, userID, cardID)
	if err != nil {
		return fmt.Errorf("failed to delete ownership: %w", err)
	}
	return nil
}

// ListOwnedCards returns a user's saved cards with their added-at timestamps.
// Reward joining happens in the service layer so the rate coercion rule
// lives in one place.
func (db *DB) ListOwnedCards(ctx context.Context, userID string) ([]models.OwnedCard, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.name, c.issuer, c.category, c.annual_fee_cents, c.welcome_bonus, c.benefits, c.image_url, c.created_at, uc.created_at
		FROM user_cards uc
		JOIN cards c ON c.id = uc.card_id
		WHERE uc.user_id = ?
		ORDER BY uc.created_at DESC, c.name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned cards: %w", err)
	}
	defer rows.Close()

	var owned []models.OwnedCard
	for rows.Next() {
		var card models.Card
		var benefitsJSON, createdAt, addedAt string
		err := rows.Scan(
			&card.ID, &card.Name, &card.Issuer, &card.Category, &card.AnnualFeeCents,
			&card.WelcomeBonus, &benefitsJSON, &card.ImageURL, &createdAt, &addedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan owned card: %w", err)
		}
		card.Benefits = deserializeStringList(benefitsJSON)
		card.CreatedAt = parseTimestamp(createdAt)
		owned = append(owned, models.OwnedCard{Card: card, AddedAt: parseTimestamp(addedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owned cards: %w", err)
	}

	return owned, nil
}

// === Submissions ===

// InsertFeedback stores a feedback message.
func (db *DB) InsertFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO feedback (id, user_id, message, created_at) VALUES (?, ?, ?, ?)`,
		fb.ID, fb.UserID, fb.Message, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// InsertMissingCardRequest stores a missing-card submission.
func (db *DB) InsertMissingCardRequest(ctx context.Context, req models.MissingCardRequest) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO missing_card_requests (id, user_id, card_name, issuer, note, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, req.CardName, req.Issuer, req.Note, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert missing card request: %w", err)
	}
	return nil
}

// === Stats (metrics collector) ===

// CountCards returns the catalog size.
func (db *DB) CountCards(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// CountUsers returns the number of registered accounts.
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// CountOwnershipEdges returns the number of saved-card edges across all users.
func (db *DB) CountOwnershipEdges(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ownership edges: %w", err)
	}
	return n, nil
}

// CountCardsByIssuer returns catalog sizes grouped by issuer.
func (db *DB) CountCardsByIssuer(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT issuer, COUNT(*) FROM cards GROUP BY issuer`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cards by issuer: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var issuer string
		var n int
		if err := rows.Scan(&issuer, &n); err != nil {
			return nil, fmt.Errorf("failed to scan issuer count: %w", err)
		}
		out[issuer] = n
	}
	return out, rows.Err()
}

// === helpers ===

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (models.Card, error) {
	var card models.Card
	var benefitsJSON, createdAt string
	err := row.Scan(
		&card.ID, &card.Name, &card.Issuer, &card.Category, &card.AnnualFeeCents,
		&card.WelcomeBonus, &benefitsJSON, &card.ImageURL, &createdAt,
	)
	if err != nil {
		return models.Card{}, err
	}
	card.Benefits = deserializeStringList(benefitsJSON)
	card.CreatedAt = parseTimestamp(createdAt)
	return card, nil
}

// serializeStringList converts a slice to a JSON string.
func serializeStringList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		// Fallback to comma-separated if JSON fails
		return strings.Join(list, ",")
	}
	return string(data)
}

// deserializeStringList converts a serialized list back to a slice.
func deserializeStringList(serialized string) []string {
	if serialized == "" || serialized == "[]" {
		return nil
	}

	var result []string
	if err := json.Unmarshal([]byte(serialized), &result); err == nil {
		return result
	}

	// Fallback to comma-separated format for backward compatibility
	return strings.Split(serialized, ",")
}

// parseTimestamp reads RFC3339 first and falls back to sqlite's
// CURRENT_TIMESTAMP format.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// escapeLike escapes LIKE wildcards in user-supplied substrings.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
