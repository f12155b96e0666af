package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorlink/mentorlink-api/internal/models"
)

const topicColumns = `id, name, parent_id, is_domain, expert_threshold, legend_threshold, active, created_at, updated_at`

// TopicRepository provides persistence for the catalogue tree.
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository creates a new topic repository.
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// FindByID loads a topic node by id.
func (r *TopicRepository) FindByID(ctx context.Context, id string) (*models.Topic, error) {
	query := fmt.Sprintf(`SELECT %s FROM topics WHERE id = $1`, topicColumns)
	var topic models.Topic
	if err := r.db.GetContext(ctx, &topic, query, id); err != nil {
		return nil, err
	}
	return &topic, nil
}

// ListChildren returns the direct children of a node.
func (r *TopicRepository) ListChildren(ctx context.Context, parentID string) ([]models.Topic, error) {
	query := fmt.Sprintf(`SELECT %s FROM topics WHERE parent_id = $1 AND active = TRUE ORDER BY name ASC`, topicColumns)
	var topics []models.Topic
	if err := r.db.SelectContext(ctx, &topics, query, parentID); err != nil {
		return nil, fmt.Errorf("list topic children: %w", err)
	}
	return topics, nil
}

// Create stores a new topic node.
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = now
	}
	topic.UpdatedAt = now

	const query = `INSERT INTO topics (id, name, parent_id, is_domain, expert_threshold, legend_threshold, active, created_at, updated_at)
		VALUES (:id, :name, :parent_id, :is_domain, :expert_threshold, :legend_threshold, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}
