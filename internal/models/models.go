package models

import "time"

// Card represents a credit card in the catalog.
type Card struct {
	ID             string    `json:"id"`               // uuid
	Name           string    `json:"name"`             // display name, e.g. "Chase Sapphire Preferred"
	Issuer         string    `json:"issuer"`           // e.g. "Chase"
	Category       string    `json:"category"`         // catalog tag, e.g. "travel"
	AnnualFeeCents int64     `json:"annual_fee_cents"` // non-negative
	WelcomeBonus   string    `json:"welcome_bonus,omitempty"`
	Benefits       []string  `json:"benefits,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// RewardEdge is one card-to-reward-category association as stored.
// RawRate is kept as text because legacy rows carry non-numeric values;
// it is coerced to a number at read time.
type RewardEdge struct {
	CardID       string `json:"card_id"`
	CardName     string `json:"card_name"`
	CardIssuer   string `json:"card_issuer"`
	CategoryName string `json:"category_name"`
	RawRate      string `json:"raw_rate"`
	Description  string `json:"description"`
}

// CardDetail is a catalog card together with its reward edges.
type CardDetail struct {
	Card
	Rewards []RewardEdge `json:"rewards"`
}

// CardRecommendation is one entry in the best-cards-by-category mapping.
type CardRecommendation struct {
	CardName          string  `json:"card_name"`
	CardIssuer        string  `json:"card_issuer"`
	RewardRate        float64 `json:"reward_rate"`
	RewardDescription string  `json:"reward_description,omitempty"`
}

// OwnedCard is a card in a user's wallet joined with its single
// highest-rate reward.
type OwnedCard struct {
	Card       Card      `json:"card"`
	BestRate   float64   `json:"best_rate"`
	BestReward string    `json:"best_reward,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// SearchCandidate is the projection of a card used during autocomplete
// ranking. Never persisted.
type SearchCandidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User represents a registered account.
type User struct {
	ID           string    `json:"id"` // uuid
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Feedback is a free-text submission from a visitor.
type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"` // empty when anonymous
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// MissingCardRequest asks for a card that is not in the catalog yet.
type MissingCardRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	CardName  string    `json:"card_name"`
	Issuer    string    `json:"issuer,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CardPage is one page of the catalog listing.
type CardPage struct {
	Cards      []Card `json:"cards"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	TotalCards int    `json:"total_cards"`
	TotalPages int    `json:"total_pages"`
}

// SearchResponse is the payload for GET /cards/search.
type SearchResponse struct {
	Results []SearchCandidate `json:"results"`
}

// ProfileResponse is the profile aggregation surface.
type ProfileResponse struct {
	Cards               []OwnedCard                     `json:"cards"`
	BestCardsByCategory map[string][]CardRecommendation `json:"best_cards_by_category"`
}

// RegisterRequest is the request body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse carries a freshly issued JWT.
type TokenResponse struct {
	Token string `json:"token"`
}

// AddCardRequest is the request body for POST /user/cards.
type AddCardRequest struct {
	CardID string `json:"card_id" validate:"required,uuid4"`
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	Message string `json:"message" validate:"required,min=3,max=2000"`
}

// MissingCardSubmission is the request body for POST /missing-card.
type MissingCardSubmission struct {
	CardName string `json:"card_name" validate:"required,min=2,max=120"`
	Issuer   string `json:"issuer" validate:"max=80"`
	Note     string `json:"note" validate:"max=1000"`
}

// ChatRequest is the request body for POST /chat.
type ChatRequest struct {
	Message string `json:"message" validate:"required,min=1,max=4000"`
}

// ChatResponse carries the advisor's reply.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
