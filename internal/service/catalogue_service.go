package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

// maxTopicDepth bounds the ancestor walk so a corrupted parent chain
// cannot spin forever.
const maxTopicDepth = 32

type catalogueTopicRepository interface {
	FindByID(ctx context.Context, id string) (*models.Topic, error)
	ListChildren(ctx context.Context, parentID string) ([]models.Topic, error)
	Create(ctx context.Context, topic *models.Topic) error
}

// CreateTopicRequest adds a node to the catalogue tree. Thresholds are
// only meaningful on domain nodes.
type CreateTopicRequest struct {
	Name            string  `json:"name" binding:"required"`
	ParentID        *string `json:"parent_id"`
	IsDomain        bool    `json:"is_domain"`
	ExpertThreshold *int    `json:"expert_threshold"`
	LegendThreshold *int    `json:"legend_threshold"`
}

type domainCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CatalogueService reads the topic tree and resolves the domain ancestor
// that carries progression thresholds. Resolution results are cached since
// the tree changes rarely.
type CatalogueService struct {
	topics      catalogueTopicRepository
	cache       domainCache
	cacheTTL    time.Duration
	progression config.ProgressionConfig
	logger      *zap.Logger
}

// NewCatalogueService constructs a CatalogueService.
func NewCatalogueService(topics catalogueTopicRepository, cache domainCache, cacheTTL time.Duration, progression config.ProgressionConfig, logger *zap.Logger) *CatalogueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogueService{topics: topics, cache: cache, cacheTTL: cacheTTL, progression: progression, logger: logger}
}

// CreateTopic adds a node to the tree. The parent must exist; threshold
// overrides on non-domain nodes are rejected since only domain ancestors
// are consulted during progression.
func (s *CatalogueService) CreateTopic(ctx context.Context, req CreateTopicRequest) (*models.Topic, error) {
	if !req.IsDomain && (req.ExpertThreshold != nil || req.LegendThreshold != nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "thresholds are only allowed on domain topics")
	}
	if req.ParentID != nil {
		if _, err := s.Get(ctx, *req.ParentID); err != nil {
			return nil, err
		}
	}

	topic := &models.Topic{
		Name:            req.Name,
		ParentID:        req.ParentID,
		IsDomain:        req.IsDomain,
		ExpertThreshold: req.ExpertThreshold,
		LegendThreshold: req.LegendThreshold,
		Active:          true,
	}
	if err := s.topics.Create(ctx, topic); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create topic")
	}
	s.logger.Info("topic created", zap.String("topic_id", topic.ID), zap.Bool("is_domain", topic.IsDomain))
	return topic, nil
}

// Get returns a topic by id.
func (s *CatalogueService) Get(ctx context.Context, id string) (*models.Topic, error) {
	topic, err := s.topics.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load topic")
	}
	return topic, nil
}

// ListChildren returns the direct children of a topic.
func (s *CatalogueService) ListChildren(ctx context.Context, parentID string) ([]models.Topic, error) {
	topics, err := s.topics.ListChildren(ctx, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list topics")
	}
	return topics, nil
}

// ResolveDomain walks the parent chain until it reaches a domain-flagged
// node. Returns (nil, nil) when the topic has no domain ancestor or its
// chain is broken; callers treat that as "no progression applies".
func (s *CatalogueService) ResolveDomain(ctx context.Context, topicID string) (*models.Topic, error) {
	cacheKey := "topic:domain:" + topicID
	if s.cache != nil {
		var domainID string
		if err := s.cache.Get(ctx, cacheKey, &domainID); err == nil {
			return s.Get(ctx, domainID)
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("domain cache read failed", zap.String("topic_id", topicID), zap.Error(err))
		}
	}

	visited := make(map[string]struct{})
	currentID := topicID
	for depth := 0; depth < maxTopicDepth; depth++ {
		if _, seen := visited[currentID]; seen {
			s.logger.Error("topic parent chain contains a cycle", zap.String("topic_id", topicID), zap.String("at", currentID))
			return nil, nil
		}
		visited[currentID] = struct{}{}

		topic, err := s.topics.FindByID(ctx, currentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("topic parent chain is broken", zap.String("topic_id", topicID), zap.String("missing", currentID))
				return nil, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve domain")
		}
		if topic.IsDomain {
			if s.cache != nil {
				if err := s.cache.Set(ctx, cacheKey, topic.ID, s.cacheTTL); err != nil {
					s.logger.Warn("domain cache write failed", zap.String("topic_id", topicID), zap.Error(err))
				}
			}
			return topic, nil
		}
		if topic.ParentID == nil {
			return nil, nil
		}
		currentID = *topic.ParentID
	}
	s.logger.Error("topic parent chain exceeds depth limit", zap.String("topic_id", topicID))
	return nil, nil
}

// Thresholds returns the domain's progression thresholds, falling back to
// configured defaults where the domain leaves them unset.
func (s *CatalogueService) Thresholds(domain *models.Topic) models.DomainThresholds {
	thresholds := models.DomainThresholds{
		DomainID: domain.ID,
		Expert:   s.progression.DefaultExpertThreshold,
		Legend:   s.progression.DefaultLegendThreshold,
	}
	if domain.ExpertThreshold != nil {
		thresholds.Expert = *domain.ExpertThreshold
	}
	if domain.LegendThreshold != nil {
		thresholds.Legend = *domain.LegendThreshold
	}
	return thresholds
}
