package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cardwise-api/internal/auth"
	"cardwise-api/internal/database"
	"cardwise-api/internal/middleware"
	"cardwise-api/internal/models"
	"cardwise-api/internal/service"
)

type testEnv struct {
	db     *database.DB
	tokens *auth.TokenService
	router *chi.Mux
}

func setupTestEnv(t *testing.T) (*testEnv, func()) {
	dbPath := "./test_handler_" + uuid.New().String() + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	tokens := auth.NewTokenService("test-secret", time.Hour)
	svc := service.NewService(service.Options{
		DB:     db,
		Tokens: tokens,
	})
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/cards", h.ListCards)
	r.Get("/cards/search", h.SearchCards)
	r.Get("/cards/{card_id}", h.GetCard)
	r.Route("/user", func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens))
		r.Get("/profile", h.GetProfile)
		r.Get("/cards", h.GetUserCards)
		r.Post("/cards", h.AddUserCard)
		r.Delete("/cards/{card_id}", h.RemoveUserCard)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(tokens))
		r.Post("/feedback", h.SubmitFeedback)
		r.Post("/missing-card", h.SubmitMissingCard)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens))
		r.Post("/chat", h.Chat)
	})

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return &testEnv{db: db, tokens: tokens, router: r}, cleanup
}

func (e *testEnv) seedCard(t *testing.T, name, issuer string) string {
	t.Helper()
	id := uuid.New().String()
	err := e.db.UpsertCard(context.Background(), models.Card{ID: id, Name: name, Issuer: issuer})
	if err != nil {
		t.Fatalf("Failed to seed card: %v", err)
	}
	return id
}

func (e *testEnv) registeredToken(t *testing.T, email string) string {
	t.Helper()
	body, _ := json.Marshal(models.RegisterRequest{Email: email, Password: "test-password"})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to register test user: %d %s", rr.Code, rr.Body.String())
	}
	var resp models.TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal token response: %v", err)
	}
	return resp.Token
}

func TestRegister_Success(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	body, _ := json.Marshal(models.RegisterRequest{
		Email:    "alice@example.com",
		Password: "test-password",
	})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var resp models.TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Token == "" {
		t.Error("Expected a token in the response")
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	body, _ := json.Marshal(models.RegisterRequest{
		Email:    "not-an-email",
		Password: "test-password",
	})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestRegister_InvalidJSON(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	req := httptest.NewRequest("POST", "/auth/register", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
}

func TestSearchCards_ShortQueryReturnsEmptyOK(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	env.seedCard(t, "Sapphire Preferred", "Chase")

	req := httptest.NewRequest("GET", "/cards/search?q=sa", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for a short query, got %d", rr.Code)
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("Expected empty results, got %d", len(resp.Results))
	}
}

func TestSearchCards_Match(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	env.seedCard(t, "Sapphire Preferred", "Chase")
	env.seedCard(t, "SavorOne", "Capital One")

	req := httptest.NewRequest("GET", "/cards/search?q=sap", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Name != "Sapphire Preferred" {
		t.Fatalf("Expected only Sapphire Preferred, got %v", resp.Results)
	}
}

func TestGetCard_IncludesRewards(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	cardID := env.seedCard(t, "Gold Card", "Amex")
	if err := env.db.InsertRewardEdge(context.Background(), cardID, "Groceries", "4", "4x at supermarkets"); err != nil {
		t.Fatalf("Failed to seed reward edge: %v", err)
	}

	req := httptest.NewRequest("GET", "/cards/"+cardID, nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var detail models.CardDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if detail.Name != "Gold Card" {
		t.Errorf("Expected Gold Card, got %q", detail.Name)
	}
	if len(detail.Rewards) != 1 || detail.Rewards[0].CategoryName != "Groceries" {
		t.Errorf("Expected one Groceries reward edge, got %+v", detail.Rewards)
	}
}

func TestGetCard_NotFound(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/cards/"+uuid.New().String(), nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestGetCard_MalformedID(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/cards/not-a-uuid", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
}

func TestAddUserCard_RequiresAuth(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	body, _ := json.Marshal(models.AddCardRequest{CardID: uuid.New().String()})
	req := httptest.NewRequest("POST", "/user/cards", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401 without a token, got %d", rr.Code)
	}
}

func TestAddUserCard_Flow(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	token := env.registeredToken(t, "bob@example.com")
	cardID := env.seedCard(t, "Sapphire Preferred", "Chase")

	add := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(models.AddCardRequest{CardID: cardID})
		req := httptest.NewRequest("POST", "/user/cards", bytes.NewBuffer(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	rr := add()
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var owned models.OwnedCard
	if err := json.Unmarshal(rr.Body.Bytes(), &owned); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if owned.Card.Name != "Sapphire Preferred" {
		t.Errorf("Expected joined card record, got %+v", owned)
	}
	if rr := add(); rr.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 on duplicate save, got %d", rr.Code)
	}

	// Remove, then remove again: both succeed
	req := httptest.NewRequest("DELETE", "/user/cards/"+cardID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}

	req = httptest.NewRequest("DELETE", "/user/cards/"+cardID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204 on repeat removal, got %d", rr.Code)
	}
}

func TestGetUserCards(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	token := env.registeredToken(t, "dan@example.com")
	cardID := env.seedCard(t, "Freedom Unlimited", "Chase")
	if err := env.db.InsertRewardEdge(context.Background(), cardID, "Dining", "3", "3% on dining"); err != nil {
		t.Fatalf("Failed to seed reward edge: %v", err)
	}

	body, _ := json.Marshal(models.AddCardRequest{CardID: cardID})
	req := httptest.NewRequest("POST", "/user/cards", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to add card: %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/user/cards", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var owned []models.OwnedCard
	if err := json.Unmarshal(rr.Body.Bytes(), &owned); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(owned) != 1 {
		t.Fatalf("Expected 1 owned card, got %d", len(owned))
	}
	if owned[0].Card.Name != "Freedom Unlimited" {
		t.Errorf("Expected Freedom Unlimited, got %q", owned[0].Card.Name)
	}
	if owned[0].BestRate != 3 || owned[0].BestReward != "3% on dining" {
		t.Errorf("Expected joined best reward, got rate=%v reward=%q", owned[0].BestRate, owned[0].BestReward)
	}

	req = httptest.NewRequest("GET", "/user/cards", nil)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", rr.Code)
	}
}

func TestGetProfile(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	token := env.registeredToken(t, "carol@example.com")
	cardID := env.seedCard(t, "Gold Card", "Amex")
	if err := env.db.InsertRewardEdge(context.Background(), cardID, "Groceries", "4", "4x at supermarkets"); err != nil {
		t.Fatalf("Failed to seed reward edge: %v", err)
	}

	body, _ := json.Marshal(models.AddCardRequest{CardID: cardID})
	req := httptest.NewRequest("POST", "/user/cards", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to add card: %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/user/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var profile models.ProfileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &profile); err != nil {
		t.Fatalf("Failed to unmarshal profile: %v", err)
	}
	if len(profile.Cards) != 1 {
		t.Fatalf("Expected 1 wallet card, got %d", len(profile.Cards))
	}
	if profile.Cards[0].BestRate != 4 {
		t.Errorf("Expected best rate 4, got %v", profile.Cards[0].BestRate)
	}
	recs := profile.BestCardsByCategory["Groceries"]
	if len(recs) != 1 || recs[0].CardName != "Gold Card" {
		t.Fatalf("Expected Gold Card under Groceries, got %v", recs)
	}
}

func TestSubmitFeedback_Anonymous(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	body, _ := json.Marshal(models.FeedbackRequest{Message: "found this very useful"})
	req := httptest.NewRequest("POST", "/feedback", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestChat_RequiresAuth(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	body, _ := json.Marshal(models.ChatRequest{Message: "best card for gas?"})
	req := httptest.NewRequest("POST", "/chat", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401 without token, got %d", rr.Code)
	}
}

func TestChat_UnavailableWithoutAdvisor(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	token := env.registeredToken(t, "faye@example.com")
	body, _ := json.Marshal(models.ChatRequest{Message: "best card for gas?"})
	req := httptest.NewRequest("POST", "/chat", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 when the advisor is not configured, got %d", rr.Code)
	}
}

func TestListCards(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	env.seedCard(t, "Sapphire Preferred", "Chase")
	env.seedCard(t, "Gold Card", "Amex")

	req := httptest.NewRequest("GET", "/cards?per_page=1&page=2", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var page models.CardPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("Failed to unmarshal page: %v", err)
	}
	if page.TotalCards != 2 || len(page.Cards) != 1 {
		t.Fatalf("Expected 2 total cards with 1 on page 2, got total=%d page_len=%d", page.TotalCards, len(page.Cards))
	}
}
