package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cardwise-api/internal/advisor"
	"cardwise-api/internal/apperrors"
	"cardwise-api/internal/auth"
	"cardwise-api/internal/cache"
	"cardwise-api/internal/database"
	"cardwise-api/internal/events"
	"cardwise-api/internal/features"
	"cardwise-api/internal/metrics"
	"cardwise-api/internal/models"
	"cardwise-api/internal/rewards"
	"cardwise-api/internal/search"
	"cardwise-api/internal/validation"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ErrAdvisorDisabled is returned by Chat when no advisor is configured.
// The HTTP boundary maps it to 503 rather than the generic 500.
var ErrAdvisorDisabled = errors.New("advisor is not available")

// Service provides business logic for the card comparison API.
type Service struct {
	db      *database.DB
	finder  *rewards.Finder
	tokens  *auth.TokenService
	adv     *advisor.Advisor
	cache   cache.Cache
	events  *events.Manager
	flags   *features.Manager
	metrics *metrics.Collector
	logger  *slog.Logger

	cacheTTL       time.Duration
	advisorTimeout time.Duration
}

// Options holds the collaborators a Service needs. DB, Tokens, Events and
// Flags are required; the rest degrade gracefully when nil.
type Options struct {
	DB             *database.DB
	Tokens         *auth.TokenService
	Advisor        *advisor.Advisor
	Cache          cache.Cache
	Events         *events.Manager
	Flags          *features.Manager
	Metrics        *metrics.Collector
	Logger         *slog.Logger
	CacheTTL       time.Duration
	AdvisorTimeout time.Duration
}

// NewService creates a new service instance.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.AdvisorTimeout <= 0 {
		opts.AdvisorTimeout = 20 * time.Second
	}
	s := &Service{
		db:             opts.DB,
		tokens:         opts.Tokens,
		adv:            opts.Advisor,
		cache:          opts.Cache,
		events:         opts.Events,
		flags:          opts.Flags,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		cacheTTL:       opts.CacheTTL,
		advisorTimeout: opts.AdvisorTimeout,
	}
	s.finder = rewards.NewFinder(&cachedRewardStore{s: s})
	return s
}

// Register creates an account and returns a fresh session token.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.TokenResponse, error) {
	req.Email = strings.ToLower(validation.SanitizeString(req.Email))
	if err := validation.ValidateStruct(req); err != nil {
		return models.TokenResponse{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.TokenResponse{}, apperrors.Wrap(apperrors.KindUnavailable, err)
	}

	user := models.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return models.TokenResponse{}, apperrors.New(apperrors.KindConflict, "email is already registered")
		}
		return models.TokenResponse{}, s.storageErr(ctx, err)
	}

	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return models.TokenResponse{}, apperrors.Wrap(apperrors.KindUnavailable, err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return models.TokenResponse{Token: token}, nil
}

// Login verifies credentials and returns a fresh session token. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (models.TokenResponse, error) {
	req.Email = strings.ToLower(validation.SanitizeString(req.Email))
	if err := validation.ValidateStruct(req); err != nil {
		return models.TokenResponse{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	user, err := s.db.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.TokenResponse{}, apperrors.New(apperrors.KindUnauthorized, "invalid credentials")
		}
		return models.TokenResponse{}, s.storageErr(ctx, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return models.TokenResponse{}, apperrors.New(apperrors.KindUnauthorized, "invalid credentials")
	}

	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return models.TokenResponse{}, apperrors.Wrap(apperrors.KindUnavailable, err)
	}

	return models.TokenResponse{Token: token}, nil
}

// ListCards returns one page of the catalog, optionally narrowed by
// category and issuer. Page starts at 1; out-of-range paging inputs are
// clamped rather than rejected.
func (s *Service) ListCards(ctx context.Context, category, issuer string, page, perPage int) (models.CardPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	filter := database.ListCardsFilter{
		Category: validation.SanitizeString(category),
		Issuer:   validation.SanitizeString(issuer),
		Offset:   (page - 1) * perPage,
		Limit:    perPage,
	}

	cards, total, err := s.db.ListCards(ctx, filter)
	if err != nil {
		return models.CardPage{}, s.storageErr(ctx, err)
	}
	if cards == nil {
		cards = []models.Card{}
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}

	return models.CardPage{
		Cards:      cards,
		Page:       page,
		PerPage:    perPage,
		TotalCards: total,
		TotalPages: totalPages,
	}, nil
}

// GetCard fetches a single catalog card by id, including its reward edges.
func (s *Service) GetCard(ctx context.Context, cardID string) (models.CardDetail, error) {
	cardID = validation.SanitizeString(cardID)
	if err := validation.ValidateUUID(cardID, "card_id"); err != nil {
		return models.CardDetail{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	cacheKey := cache.CardKey(cardID)
	if s.cacheEnabled(features.FeatureCacheEnabled) {
		var cached models.CardDetail
		if err := cache.GetJSON(ctx, s.cache, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	card, err := s.db.GetCardByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.CardDetail{}, apperrors.New(apperrors.KindNotFound, "card not found")
		}
		return models.CardDetail{}, s.storageErr(ctx, err)
	}

	edges, err := s.db.ListRewardEdgesForCards(ctx, []string{card.ID})
	if err != nil {
		return models.CardDetail{}, s.storageErr(ctx, err)
	}
	if edges == nil {
		edges = []models.RewardEdge{}
	}
	detail := models.CardDetail{Card: card, Rewards: edges}

	if s.cacheEnabled(features.FeatureCacheEnabled) {
		if err := cache.SetJSON(ctx, s.cache, cacheKey, detail, s.cacheTTL); err != nil {
			s.logger.Warn("card cache write failed", "error", err)
		}
	}
	return detail, nil
}

// SearchCards runs the name autocomplete. Queries shorter than the
// minimum return an empty result without touching storage.
func (s *Service) SearchCards(ctx context.Context, query string) (models.SearchResponse, error) {
	query = validation.SanitizeString(query)
	if search.QueryTooShort(query) {
		return models.SearchResponse{Results: []models.SearchCandidate{}}, nil
	}

	s.metrics.IncSearch()

	cacheKey := cache.SearchKey(query)
	if s.cacheEnabled(features.FeatureSearchCache) {
		var cached models.SearchResponse
		if err := cache.GetJSON(ctx, s.cache, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	candidates, err := s.db.FindCardsByNameSubstring(ctx, query, search.CandidateLimit)
	if err != nil {
		return models.SearchResponse{}, s.storageErr(ctx, err)
	}

	ranked := search.RankMatches(query, candidates)
	if ranked == nil {
		ranked = []models.SearchCandidate{}
	}
	resp := models.SearchResponse{Results: ranked}

	if s.cacheEnabled(features.FeatureSearchCache) {
		if err := cache.SetJSON(ctx, s.cache, cacheKey, resp, s.cacheTTL); err != nil {
			s.logger.Warn("search cache write failed", "error", err)
		}
	}

	return resp, nil
}

// AddUserCard saves a catalog card into the user's wallet and returns
// the reward-joined record.
func (s *Service) AddUserCard(ctx context.Context, userID string, req models.AddCardRequest) (models.OwnedCard, error) {
	req.CardID = validation.SanitizeString(req.CardID)
	if err := validation.ValidateStruct(req); err != nil {
		return models.OwnedCard{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	card, err := s.db.GetCardByID(ctx, req.CardID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.OwnedCard{}, apperrors.New(apperrors.KindNotFound, "card not found")
		}
		return models.OwnedCard{}, s.storageErr(ctx, err)
	}

	addedAt, err := s.db.InsertOwnership(ctx, userID, req.CardID)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return models.OwnedCard{}, apperrors.New(apperrors.KindConflict, "card is already saved")
		}
		return models.OwnedCard{}, s.storageErr(ctx, err)
	}

	owned := models.OwnedCard{Card: card, AddedAt: addedAt}
	edges, err := s.db.ListRewardEdgesForCards(ctx, []string{card.ID})
	if err != nil {
		return models.OwnedCard{}, s.storageErr(ctx, err)
	}
	owned.BestRate, owned.BestReward = rewards.BestRewardForCard(card.ID, edges)

	s.invalidateProfile(ctx, userID)
	s.events.PublishCardSaved(ctx, userID, req.CardID)
	s.logger.Info("card saved", "user_id", userID, "card_id", req.CardID)
	return owned, nil
}

// GetUserCards returns the user's wallet joined with each card's single
// highest-rate reward.
func (s *Service) GetUserCards(ctx context.Context, userID string) ([]models.OwnedCard, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.KindUnauthorized, "authentication required")
	}
	return s.listOwnedWithRewards(ctx, userID)
}

// RemoveUserCard drops a card from the user's wallet. Removing a card
// that was never saved is a no-op, not an error.
func (s *Service) RemoveUserCard(ctx context.Context, userID, cardID string) error {
	cardID = validation.SanitizeString(cardID)
	if err := validation.ValidateUUID(cardID, "card_id"); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	if err := s.db.DeleteOwnership(ctx, userID, cardID); err != nil {
		return s.storageErr(ctx, err)
	}

	s.invalidateProfile(ctx, userID)
	s.events.PublishCardRemoved(ctx, userID, cardID)
	return nil
}

// GetProfile returns the user's wallet joined with reward data plus the
// best-cards-by-category mapping over every known reward category.
func (s *Service) GetProfile(ctx context.Context, userID string) (models.ProfileResponse, error) {
	if userID == "" {
		return models.ProfileResponse{}, apperrors.New(apperrors.KindUnauthorized, "authentication required")
	}

	cacheKey := cache.ProfileKey(userID)
	if s.cacheEnabled(features.FeatureCacheEnabled) {
		var cached models.ProfileResponse
		if err := cache.GetJSON(ctx, s.cache, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	owned, err := s.listOwnedWithRewards(ctx, userID)
	if err != nil {
		return models.ProfileResponse{}, err
	}

	byCategory, err := s.finder.BestCardsByCategory(ctx, userID)
	if err != nil {
		return models.ProfileResponse{}, err
	}

	resp := models.ProfileResponse{
		Cards:               owned,
		BestCardsByCategory: byCategory,
	}

	if s.cacheEnabled(features.FeatureCacheEnabled) {
		if err := cache.SetJSON(ctx, s.cache, cacheKey, resp, s.cacheTTL); err != nil {
			s.logger.Warn("profile cache write failed", "error", err)
		}
	}

	return resp, nil
}

// SubmitFeedback stores a free-text feedback submission. userID is empty
// for anonymous visitors.
func (s *Service) SubmitFeedback(ctx context.Context, userID string, req models.FeedbackRequest) (models.Feedback, error) {
	req.Message = validation.SanitizeString(req.Message)
	if err := validation.ValidateStruct(req); err != nil {
		return models.Feedback{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	fb := models.Feedback{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.InsertFeedback(ctx, fb); err != nil {
		return models.Feedback{}, s.storageErr(ctx, err)
	}

	s.events.PublishFeedbackReceived(ctx, fb.ID, "")
	return fb, nil
}

// SubmitMissingCard records a request for a card the catalog doesn't
// carry yet.
func (s *Service) SubmitMissingCard(ctx context.Context, userID string, req models.MissingCardSubmission) (models.MissingCardRequest, error) {
	req.CardName = validation.SanitizeString(req.CardName)
	req.Issuer = validation.SanitizeString(req.Issuer)
	req.Note = validation.SanitizeString(req.Note)
	if err := validation.ValidateStruct(req); err != nil {
		return models.MissingCardRequest{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	mcr := models.MissingCardRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		CardName:  req.CardName,
		Issuer:    req.Issuer,
		Note:      req.Note,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.InsertMissingCardRequest(ctx, mcr); err != nil {
		return models.MissingCardRequest{}, s.storageErr(ctx, err)
	}

	s.events.PublishMissingCardReported(ctx, mcr.ID, mcr.CardName)
	return mcr, nil
}

// Chat forwards a question to the hosted advisor, seeding it with the
// user's saved cards when authenticated.
func (s *Service) Chat(ctx context.Context, userID string, req models.ChatRequest) (models.ChatResponse, error) {
	req.Message = validation.SanitizeString(req.Message)
	if err := validation.ValidateStruct(req); err != nil {
		return models.ChatResponse{}, apperrors.Wrap(apperrors.KindInvalidArgument, err)
	}

	if !s.chatEnabled() {
		return models.ChatResponse{}, apperrors.Wrap(apperrors.KindUnavailable, ErrAdvisorDisabled)
	}

	var owned []models.OwnedCard
	if userID != "" {
		var err error
		owned, err = s.db.ListOwnedCards(ctx, userID)
		if err != nil {
			// The advisor can still answer without wallet context.
			s.logger.Warn("wallet lookup for chat failed", "user_id", userID, "error", err)
			owned = nil
		}
	}

	s.metrics.IncChat()

	askCtx, cancel := context.WithTimeout(ctx, s.advisorTimeout)
	defer cancel()

	answer, err := s.adv.Ask(askCtx, req.Message, owned)
	if err != nil {
		if ctx.Err() != nil {
			return models.ChatResponse{}, apperrors.Wrap(apperrors.KindCanceled, ctx.Err())
		}
		return models.ChatResponse{}, apperrors.Wrap(apperrors.KindUnavailable, fmt.Errorf("advisor request failed: %w", err))
	}

	s.events.PublishChatAnswered(ctx, userID)
	return models.ChatResponse{Reply: answer}, nil
}

// listOwnedWithRewards loads the wallet and fills in each card's best
// reward so the rate coercion rule lives in the rewards package.
func (s *Service) listOwnedWithRewards(ctx context.Context, userID string) ([]models.OwnedCard, error) {
	owned, err := s.db.ListOwnedCards(ctx, userID)
	if err != nil {
		return nil, s.storageErr(ctx, err)
	}
	if len(owned) == 0 {
		return []models.OwnedCard{}, nil
	}

	ids := make([]string, len(owned))
	for i, oc := range owned {
		ids[i] = oc.Card.ID
	}
	edges, err := s.db.ListRewardEdgesForCards(ctx, ids)
	if err != nil {
		return nil, s.storageErr(ctx, err)
	}
	for i := range owned {
		owned[i].BestRate, owned[i].BestReward = rewards.BestRewardForCard(owned[i].Card.ID, edges)
	}
	return owned, nil
}

// cachedRewardStore feeds the finder. The category-name universe changes
// only when the catalog is curated, so it is served from cache with the
// regular TTL; owned cards and edges are always read fresh.
type cachedRewardStore struct {
	s *Service
}

func (c *cachedRewardStore) ListRewardCategoryNames(ctx context.Context) ([]string, error) {
	if !c.s.cacheEnabled(features.FeatureCacheEnabled) {
		return c.s.db.ListRewardCategoryNames(ctx)
	}

	key := cache.CategoryNamesKey()
	var names []string
	if err := cache.GetJSON(ctx, c.s.cache, key, &names); err == nil {
		return names, nil
	}

	names, err := c.s.db.ListRewardCategoryNames(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.s.cache, key, names, c.s.cacheTTL); err != nil {
		c.s.logger.Warn("category cache write failed", "error", err)
	}
	return names, nil
}

func (c *cachedRewardStore) ListOwnedCardIDs(ctx context.Context, userID string) ([]string, error) {
	return c.s.db.ListOwnedCardIDs(ctx, userID)
}

func (c *cachedRewardStore) ListRewardEdgesForCards(ctx context.Context, cardIDs []string) ([]models.RewardEdge, error) {
	return c.s.db.ListRewardEdgesForCards(ctx, cardIDs)
}

func (s *Service) chatEnabled() bool {
	if s.flags != nil && !s.flags.IsEnabled(features.FeatureChatEnabled) {
		return false
	}
	return s.adv.Enabled()
}

func (s *Service) cacheEnabled(flag string) bool {
	if s.cache == nil {
		return false
	}
	if s.flags != nil && !s.flags.IsEnabled(flag) {
		return false
	}
	return true
}

func (s *Service) invalidateProfile(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.ProfileKey(userID)); err != nil {
		s.logger.Warn("profile cache invalidation failed", "user_id", userID, "error", err)
	}
}

// storageErr classifies a failed storage call: caller cancellation wins
// over a generic storage failure.
func (s *Service) storageErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.KindCanceled, ctx.Err())
	}
	s.logger.Error("storage failure", "error", err)
	return apperrors.Wrap(apperrors.KindUnavailable, err)
}
