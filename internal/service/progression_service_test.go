package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/clock"
	"github.com/mentorlink/mentorlink-api/pkg/config"
)

type mockProgressionStatRepo struct {
	stat    *models.TeacherTopicStat
	updates int
	toggled []models.Tier
}

func (m *mockProgressionStatRepo) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (m *mockProgressionStatRepo) Find(ctx context.Context, teacherID, topicID string) (*models.TeacherTopicStat, error) {
	if m.stat == nil {
		return nil, sql.ErrNoRows
	}
	cp := *m.stat
	return &cp, nil
}

func (m *mockProgressionStatRepo) FindForUpdate(ctx context.Context, tx *sqlx.Tx, teacherID, topicID string) (*models.TeacherTopicStat, error) {
	return m.Find(ctx, teacherID, topicID)
}

func (m *mockProgressionStatRepo) UpdateProgress(ctx context.Context, tx *sqlx.Tx, id string, tier models.Tier, level models.Level, paidAt *time.Time) error {
	m.updates++
	m.stat.Tier = tier
	m.stat.Level = level
	m.stat.PaidAt = paidAt
	return nil
}

func (m *mockProgressionStatRepo) SetTier(ctx context.Context, teacherID, topicID string, tier models.Tier, paidAt *time.Time) error {
	m.toggled = append(m.toggled, tier)
	if m.stat != nil {
		m.stat.Tier = tier
		m.stat.PaidAt = paidAt
	}
	return nil
}

type mockDomainResolver struct {
	domain *models.Topic
	err    error
}

func (m *mockDomainResolver) ResolveDomain(ctx context.Context, topicID string) (*models.Topic, error) {
	return m.domain, m.err
}

func (m *mockDomainResolver) Thresholds(domain *models.Topic) models.DomainThresholds {
	t := models.DomainThresholds{DomainID: domain.ID, Expert: 20, Legend: 1000}
	if domain.ExpertThreshold != nil {
		t.Expert = *domain.ExpertThreshold
	}
	if domain.LegendThreshold != nil {
		t.Legend = *domain.LegendThreshold
	}
	return t
}

func progressionFixture(stat *models.TeacherTopicStat, domain *models.Topic) (*ProgressionService, *mockProgressionStatRepo) {
	repo := &mockProgressionStatRepo{stat: stat}
	resolver := &mockDomainResolver{domain: domain}
	cfg := config.ProgressionConfig{
		PaidRatingMinimum:      4.0,
		DefaultExpertThreshold: 20,
		DefaultLegendThreshold: 1000,
	}
	clk := clock.At(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewProgressionService(repo, resolver, nil, cfg, clk, zap.NewNop()), repo
}

func mathsDomain() *models.Topic {
	return &models.Topic{ID: "maths", Name: "Mathematics", IsDomain: true}
}

func TestEvaluatePromotesToExpertAtThreshold(t *testing.T) {
	stat := &models.TeacherTopicStat{
		ID:           "st1",
		TeacherID:    "t1",
		TopicID:      "algebra",
		Tier:         models.TierFree,
		Level:        models.LevelBridger,
		SessionCount: 20,
	}
	svc, repo := progressionFixture(stat, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.LevelExpert, updated.Level)
	assert.Equal(t, 1, repo.updates)
}

func TestEvaluateStaysBridgerBelowThreshold(t *testing.T) {
	stat := &models.TeacherTopicStat{
		ID:           "st1",
		Tier:         models.TierFree,
		Level:        models.LevelBridger,
		SessionCount: 19,
	}
	svc, repo := progressionFixture(stat, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.LevelBridger, updated.Level)
	assert.Zero(t, repo.updates, "unchanged standing writes nothing")
}

func TestEvaluateIsIdempotent(t *testing.T) {
	stat := &models.TeacherTopicStat{
		ID:           "st1",
		Tier:         models.TierFree,
		Level:        models.LevelBridger,
		SessionCount: 25,
		Rating:       4.5,
	}
	svc, repo := progressionFixture(stat, mathsDomain())

	first, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	second, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)

	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, 1, repo.updates, "second run must not rewrite the row")
}

func TestEvaluatePromotesTierOnRating(t *testing.T) {
	stat := &models.TeacherTopicStat{
		ID:     "st1",
		Tier:   models.TierFree,
		Level:  models.LevelBridger,
		Rating: 4.0,
	}
	svc, _ := progressionFixture(stat, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, models.TierPaid, updated.Tier)
	require.NotNil(t, updated.PaidAt)
}

func TestEvaluateDoesNotDemoteTier(t *testing.T) {
	paidAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := &models.TeacherTopicStat{
		ID:     "st1",
		Tier:   models.TierPaid,
		Level:  models.LevelBridger,
		Rating: 2.0,
		PaidAt: &paidAt,
	}
	svc, _ := progressionFixture(stat, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, models.TierPaid, updated.Tier)
	assert.Equal(t, &paidAt, updated.PaidAt)
}

func TestEvaluatePreservesManualMaster(t *testing.T) {
	stat := &models.TeacherTopicStat{
		ID:           "st1",
		Tier:         models.TierPaid,
		Level:        models.LevelMaster,
		SessionCount: 500,
	}
	svc, repo := progressionFixture(stat, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, models.LevelMaster, updated.Level)
	assert.Zero(t, repo.updates)
}

func TestEvaluatePromotesMasterToLegend(t *testing.T) {
	stat := &models.TeacherTopicStat{
		ID:           "st1",
		Tier:         models.TierPaid,
		Level:        models.LevelMaster,
		SessionCount: 1000,
	}
	svc, _ := progressionFixture(stat, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, models.LevelLegend, updated.Level)
}

func TestEvaluateUsesDomainSpecificThresholds(t *testing.T) {
	expert := 5
	domain := mathsDomain()
	domain.ExpertThreshold = &expert
	stat := &models.TeacherTopicStat{
		ID:           "st1",
		Tier:         models.TierFree,
		Level:        models.LevelBridger,
		SessionCount: 5,
	}
	svc, _ := progressionFixture(stat, domain)

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	assert.Equal(t, models.LevelExpert, updated.Level)
}

func TestEvaluateSkipsWhenNoDomainAncestor(t *testing.T) {
	stat := &models.TeacherTopicStat{ID: "st1", SessionCount: 100}
	svc, repo := progressionFixture(stat, nil)

	updated, err := svc.Evaluate(context.Background(), "t1", "orphan")
	require.NoError(t, err)
	assert.Nil(t, updated)
	assert.Zero(t, repo.updates)
}

func TestEvaluateSkipsWhenNoStatRow(t *testing.T) {
	svc, repo := progressionFixture(nil, mathsDomain())

	updated, err := svc.Evaluate(context.Background(), "t1", "algebra")
	require.NoError(t, err)
	assert.Nil(t, updated)
	assert.Zero(t, repo.updates)
}

func TestToggleTierDemotes(t *testing.T) {
	paidAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	stat := &models.TeacherTopicStat{ID: "st1", Tier: models.TierPaid, PaidAt: &paidAt}
	svc, repo := progressionFixture(stat, mathsDomain())

	require.NoError(t, svc.ToggleTier(context.Background(), "t1", "algebra", models.TierFree))
	assert.Equal(t, []models.Tier{models.TierFree}, repo.toggled)
	assert.Equal(t, models.TierFree, repo.stat.Tier)
}
