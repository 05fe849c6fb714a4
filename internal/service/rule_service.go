package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Monthlyaway/short-rules/internal/audit"
	"github.com/Monthlyaway/short-rules/internal/cache"
	"github.com/Monthlyaway/short-rules/internal/filter"
	"github.com/Monthlyaway/short-rules/internal/model"
	"github.com/Monthlyaway/short-rules/internal/repository"
	"github.com/Monthlyaway/short-rules/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const createProcess = "create_rule"

// Listing is one page of an owner's rules sorted by expire date
type Listing struct {
	Rules      []model.RuleSummary `json:"rules"`
	FromCache  bool                `json:"from_cache"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
	Total      int                 `json:"total"`
}

// RuleService handles business logic for shortening rules
type RuleService struct {
	repo        *repository.RuleRepository
	cache       *cache.ListingCache
	bloom       *filter.BloomFilter
	audit       *audit.Recorder
	logger      *zap.Logger
	aliasDomain string
	strLimit    int
}

// NewRuleService creates a new rule service instance
func NewRuleService(repo *repository.RuleRepository, listingCache *cache.ListingCache,
	bloom *filter.BloomFilter, recorder *audit.Recorder, logger *zap.Logger,
	aliasDomain string, strLimit int) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{
		repo:        repo,
		cache:       listingCache,
		bloom:       bloom,
		audit:       recorder,
		logger:      logger,
		aliasDomain: aliasDomain,
		strLimit:    strLimit,
	}
}

// CreateRule validates and persists a new shortening rule for the
// owner, together with the collection row linking them. The alias is
// composed as "<domain>/<subpart>". Rejected submissions return a
// ValidationError and leave the store untouched.
func (s *RuleService) CreateRule(ctx context.Context, owner *model.Owner, link, subpart string, expireDate time.Time) (*model.Rule, error) {
	fieldErrs := ValidationError{}
	if err := s.validateLink(link); err != nil {
		fieldErrs["link"] = err.Error()
	}
	if subpart == "" {
		fieldErrs["subpart"] = "subpart must not be empty"
	} else {
		// Pre-check is an optimization only; the unique index decides
		exists, err := s.SubpartExists(ctx, subpart)
		if err != nil {
			return nil, err
		}
		if exists {
			fieldErrs["subpart"] = "subpart already exists"
		}
	}
	if expireDate.IsZero() {
		fieldErrs["expire_date"] = "expire date must be set"
	}
	if len(fieldErrs) > 0 {
		return nil, fieldErrs
	}

	id, err := utils.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate rule id: %w", err)
	}

	rule := &model.Rule{
		ID:         id,
		Link:       link,
		Alias:      s.aliasDomain + "/" + subpart,
		Subpart:    subpart,
		ExpireDate: model.DateOf(expireDate),
		StrLimit:   s.strLimit,
		OwnerID:    owner.ID,
	}

	col, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ValidationError{"subpart": "subpart already exists"}
		}
		return nil, err
	}

	s.audit.Record(ctx, owner, createProcess, fmt.Sprintf("created rule with id: %d", rule.ID))
	s.audit.Record(ctx, owner, createProcess, fmt.Sprintf("created collection entry with id: %d", col.ID))

	s.bloom.Add(subpart)
	if err := s.cache.Invalidate(ctx, owner.ID); err != nil {
		s.logger.Warn("failed to invalidate listing cache", zap.Uint("owner", owner.ID), zap.Error(err))
	}

	return rule, nil
}

// GetOwnerRules returns one page of the owner's rules sorted ascending
// by expire date. The listing is served from the per-owner cache when
// present; skipCache forces a recompute, used right after a write in
// the same request cycle. Out-of-range pages clamp to the nearest
// valid page.
func (s *RuleService) GetOwnerRules(ctx context.Context, owner *model.Owner, page int, skipCache bool) (*Listing, error) {
	var summaries []model.RuleSummary
	fromCache := false

	if !skipCache {
		cached, hit, err := s.cache.Get(ctx, owner.ID)
		if err != nil {
			s.logger.Warn("failed to read listing cache", zap.Uint("owner", owner.ID), zap.Error(err))
		}
		if hit {
			summaries = cached
			fromCache = true
		}
	}

	if !fromCache {
		rules, err := s.repo.ListRulesByOwner(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		summaries = make([]model.RuleSummary, 0, len(rules))
		for _, rule := range rules {
			summaries = append(summaries, rule.Summary())
		}
		if err := s.cache.Set(ctx, owner.ID, summaries); err != nil {
			s.logger.Warn("failed to write listing cache", zap.Uint("owner", owner.ID), zap.Error(err))
		}
	}

	pageItems, pageNum, totalPages := paginate(summaries, page, owner.RowsOnPage)
	return &Listing{
		Rules:      pageItems,
		FromCache:  fromCache,
		Page:       pageNum,
		TotalPages: totalPages,
		Total:      len(summaries),
	}, nil
}

// Resolve returns the stored original link for a rule identifier, or
// ErrNotFound when no rule matches. No mutation, no audit.
func (s *RuleService) Resolve(ctx context.Context, ruleID int64) (string, error) {
	rule, err := s.repo.GetRuleByID(ctx, ruleID)
	if err != nil {
		return "", err
	}
	if rule == nil {
		return "", ErrNotFound
	}
	return rule.Link, nil
}

// SubpartExists reports whether the subpart is already taken.
// Bloom negative answers skip the database round trip.
func (s *RuleService) SubpartExists(ctx context.Context, subpart string) (bool, error) {
	if !s.bloom.Test(subpart) {
		return false, nil
	}
	return s.repo.SubpartExists(ctx, subpart)
}

// SuggestSubpart generates a free subpart candidate from a snowflake
// ID in Base62
func (s *RuleService) SuggestSubpart(ctx context.Context) (string, error) {
	for i := 0; i < 3; i++ {
		candidate, err := utils.GenerateSubpart()
		if err != nil {
			return "", fmt.Errorf("failed to generate subpart: %w", err)
		}
		exists, err := s.SubpartExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to find a free subpart")
}

// DeleteExpired removes every rule whose expire date is on or before
// asOf and drops the listing caches of the affected owners. Returns
// the deleted rule identifiers.
func (s *RuleService) DeleteExpired(ctx context.Context, asOf time.Time) ([]int64, error) {
	ids, owners, err := s.repo.DeleteExpired(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateMany(ctx, owners); err != nil {
		s.logger.Warn("failed to invalidate listing caches after sweep", zap.Error(err))
	}
	return ids, nil
}

// ListAllRules returns every rule sorted ascending by expire date,
// for the REST listing surface
func (s *RuleService) ListAllRules(ctx context.Context) ([]model.RuleSummary, error) {
	rules, err := s.repo.ListAllRules(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.RuleSummary, 0, len(rules))
	for _, rule := range rules {
		summaries = append(summaries, rule.Summary())
	}
	return summaries, nil
}

// GetRule returns a single rule summary, or ErrNotFound
func (s *RuleService) GetRule(ctx context.Context, ruleID int64) (*model.RuleSummary, error) {
	rule, err := s.repo.GetRuleByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrNotFound
	}
	summary := rule.Summary()
	return &summary, nil
}

// DeleteRule removes a single rule and invalidates its owner's cached
// listing. Returns ErrNotFound for an unknown identifier.
func (s *RuleService) DeleteRule(ctx context.Context, ruleID int64) error {
	rule, err := s.repo.DeleteRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.cache.Invalidate(ctx, rule.OwnerID); err != nil {
		s.logger.Warn("failed to invalidate listing cache", zap.Uint("owner", rule.OwnerID), zap.Error(err))
	}
	return nil
}

// InitBloomFilter warms the bloom filter with all existing subparts
func (s *RuleService) InitBloomFilter(ctx context.Context) error {
	subparts, err := s.repo.GetAllSubparts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get all subparts: %w", err)
	}
	s.bloom.AddBatch(subparts)
	s.logger.Info("initialized bloom filter", zap.Int("subparts", len(subparts)))
	return nil
}

// validateLink validates the original link format
func (s *RuleService) validateLink(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("link cannot be empty")
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("invalid link format")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("link must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("link must have a valid host")
	}

	return nil
}

// paginate slices summaries into 1-indexed pages of pageSize rows,
// clamping out-of-range page numbers to the first or last page
func paginate(items []model.RuleSummary, page, pageSize int) ([]model.RuleSummary, int, int) {
	if pageSize <= 0 {
		pageSize = 1
	}
	totalPages := (len(items) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], page, totalPages
}
