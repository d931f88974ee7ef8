package repositories

import (
	"context"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoryReactionRepository defines the interface for story reaction operations
type StoryReactionRepository interface {
	AddReaction(ctx context.Context, reaction *models.StoryReaction) error
	GetReactions(ctx context.Context, storyID string) ([]models.StoryReaction, error)
}

type storyReactionRepository struct {
	db *gorm.DB
}

func NewStoryReactionRepository(db *gorm.DB) StoryReactionRepository {
	return &storyReactionRepository{db: db}
}

// AddReaction stores the user's reaction, replacing an earlier one on the
// same story
func (r *storyReactionRepository) AddReaction(ctx context.Context, reaction *models.StoryReaction) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reaction", "updated_at"}),
	}).Create(reaction).Error
}

func (r *storyReactionRepository) GetReactions(ctx context.Context, storyID string) ([]models.StoryReaction, error) {
	var reactions []models.StoryReaction
	err := r.db.WithContext(ctx).Where("story_id = ?", storyID).Order("updated_at DESC").Find(&reactions).Error
	return reactions, err
}
