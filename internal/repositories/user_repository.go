package repositories

import (
	"context"
	"errors"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	UpsertUser(ctx context.Context, user *models.User, columns ...string) error
	GetUserByUID(ctx context.Context, uid string) (*models.User, error)
	GetUsersByUIDs(ctx context.Context, uids []string) ([]models.User, error)
	DisplayName(ctx context.Context, uid string) (string, error)
}

// PostgresUserRepository implements UserRepository for PostgreSQL
type PostgresUserRepository struct {
	db *gorm.DB
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(db *gorm.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// UpsertUser creates the user, or updates the named columns of an
// existing row
func (r *PostgresUserRepository) UpsertUser(ctx context.Context, user *models.User, columns ...string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(user).Error
}

// GetUserByUID retrieves a user by identity-provider uid
func (r *PostgresUserRepository) GetUserByUID(ctx context.Context, uid string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUsersByUIDs retrieves every known user among uids
func (r *PostgresUserRepository) GetUsersByUIDs(ctx context.Context, uids []string) ([]models.User, error) {
	var users []models.User
	if len(uids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("uid IN ?", uids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// DisplayName returns the user's display name, or "" for an unknown user.
func (r *PostgresUserRepository) DisplayName(ctx context.Context, uid string) (string, error) {
	user, err := r.GetUserByUID(ctx, uid)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.DisplayName, nil
}
