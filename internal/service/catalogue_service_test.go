package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/config"
	appErrors "github.com/mentorlink/mentorlink-api/pkg/errors"
)

type mockCatalogueTopicRepo struct {
	topics  map[string]*models.Topic
	lookups int
}

func (m *mockCatalogueTopicRepo) FindByID(ctx context.Context, id string) (*models.Topic, error) {
	m.lookups++
	if t, ok := m.topics[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalogueTopicRepo) ListChildren(ctx context.Context, parentID string) ([]models.Topic, error) {
	var out []models.Topic
	for _, t := range m.topics {
		if t.ParentID != nil && *t.ParentID == parentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockCatalogueTopicRepo) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = "new-topic"
	}
	m.topics[topic.ID] = topic
	return nil
}

type mockDomainCache struct {
	values map[string]interface{}
}

func (m *mockDomainCache) Get(ctx context.Context, key string, dest interface{}) error {
	if v, ok := m.values[key]; ok {
		if s, ok := dest.(*string); ok {
			*s = v.(string)
			return nil
		}
	}
	return appErrors.ErrCacheMiss
}

func (m *mockDomainCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.values[key] = value
	return nil
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

// maths (domain) <- algebra <- linear-equations
func catalogueFixture() (*CatalogueService, *mockCatalogueTopicRepo, *mockDomainCache) {
	repo := &mockCatalogueTopicRepo{topics: map[string]*models.Topic{
		"maths":            {ID: "maths", Name: "Mathematics", IsDomain: true, Active: true},
		"algebra":          {ID: "algebra", Name: "Algebra", ParentID: strPtr("maths"), Active: true},
		"linear-equations": {ID: "linear-equations", Name: "Linear Equations", ParentID: strPtr("algebra"), Active: true},
		"chess":            {ID: "chess", Name: "Chess", Active: true},
	}}
	cache := &mockDomainCache{values: map[string]interface{}{}}
	cfg := config.ProgressionConfig{DefaultExpertThreshold: 20, DefaultLegendThreshold: 1000}
	return NewCatalogueService(repo, cache, time.Hour, cfg, zap.NewNop()), repo, cache
}

func TestResolveDomainWalksParentChain(t *testing.T) {
	svc, _, _ := catalogueFixture()

	domain, err := svc.ResolveDomain(context.Background(), "linear-equations")
	require.NoError(t, err)
	require.NotNil(t, domain)
	assert.Equal(t, "maths", domain.ID)
}

func TestResolveDomainCachesResult(t *testing.T) {
	svc, repo, cache := catalogueFixture()

	_, err := svc.ResolveDomain(context.Background(), "linear-equations")
	require.NoError(t, err)
	assert.Equal(t, "maths", cache.values["topic:domain:linear-equations"])

	walked := repo.lookups
	domain, err := svc.ResolveDomain(context.Background(), "linear-equations")
	require.NoError(t, err)
	assert.Equal(t, "maths", domain.ID)
	// Cached hit resolves with a single lookup for the domain itself.
	assert.Equal(t, walked+1, repo.lookups)
}

func TestResolveDomainWithoutAncestorIsNil(t *testing.T) {
	svc, _, _ := catalogueFixture()

	domain, err := svc.ResolveDomain(context.Background(), "chess")
	require.NoError(t, err)
	assert.Nil(t, domain)
}

func TestResolveDomainSurvivesCycle(t *testing.T) {
	svc, repo, _ := catalogueFixture()
	repo.topics["a"] = &models.Topic{ID: "a", ParentID: strPtr("b")}
	repo.topics["b"] = &models.Topic{ID: "b", ParentID: strPtr("a")}

	domain, err := svc.ResolveDomain(context.Background(), "a")
	require.NoError(t, err)
	assert.Nil(t, domain)
}

func TestResolveDomainBrokenChainIsNil(t *testing.T) {
	svc, repo, _ := catalogueFixture()
	repo.topics["orphan"] = &models.Topic{ID: "orphan", ParentID: strPtr("gone")}

	domain, err := svc.ResolveDomain(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Nil(t, domain)
}

func TestThresholdsUseDomainOverrides(t *testing.T) {
	svc, repo, _ := catalogueFixture()
	repo.topics["maths"].ExpertThreshold = intPtr(5)

	thresholds := svc.Thresholds(repo.topics["maths"])
	assert.Equal(t, "maths", thresholds.DomainID)
	assert.Equal(t, 5, thresholds.Expert)
	assert.Equal(t, 1000, thresholds.Legend)
}

func TestCreateTopicRejectsThresholdsOnLeaf(t *testing.T) {
	svc, _, _ := catalogueFixture()

	_, err := svc.CreateTopic(context.Background(), CreateTopicRequest{
		Name:            "Geometry",
		ParentID:        strPtr("maths"),
		ExpertThreshold: intPtr(3),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateTopicRequiresExistingParent(t *testing.T) {
	svc, _, _ := catalogueFixture()

	_, err := svc.CreateTopic(context.Background(), CreateTopicRequest{
		Name:     "Geometry",
		ParentID: strPtr("missing"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCreateTopicStoresActiveNode(t *testing.T) {
	svc, repo, _ := catalogueFixture()

	topic, err := svc.CreateTopic(context.Background(), CreateTopicRequest{
		Name:     "Geometry",
		ParentID: strPtr("maths"),
	})
	require.NoError(t, err)
	assert.True(t, topic.Active)
	assert.Contains(t, repo.topics, topic.ID)
}
