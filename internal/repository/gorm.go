package repository

import (
	"context"
	"errors"
	"time"

	"talenttrade/backend/internal/models"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables owned by this service
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Exchange{},
		&models.Message{},
		&models.CallSession{},
	)
}

// NewGormStore wires every repository to db
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Users:     NewGormUserRepository(db),
		Exchanges: NewGormExchangeRepository(db),
		Messages:  NewGormMessageRepository(db),
		Calls:     NewGormCallRepository(db),
	}
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

type GormExchangeRepository struct {
	db *gorm.DB
}

func NewGormExchangeRepository(db *gorm.DB) *GormExchangeRepository {
	return &GormExchangeRepository{db: db}
}

func (r *GormExchangeRepository) GetByID(ctx context.Context, id string) (*models.Exchange, error) {
	var exchange models.Exchange
	if err := r.db.WithContext(ctx).First(&exchange, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &exchange, nil
}

func (r *GormExchangeRepository) Create(ctx context.Context, exchange *models.Exchange) error {
	return r.db.WithContext(ctx).Create(exchange).Error
}

func (r *GormExchangeRepository) RecordMessage(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Exchange{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"messages_count":   gorm.Expr("messages_count + 1"),
			"last_activity_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) ListByExchange(ctx context.Context, exchangeID string, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("exchange_id = ?", exchangeID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}

type GormCallRepository struct {
	db *gorm.DB
}

func NewGormCallRepository(db *gorm.DB) *GormCallRepository {
	return &GormCallRepository{db: db}
}

func (r *GormCallRepository) Create(ctx context.Context, call *models.CallSession) error {
	return r.db.WithContext(ctx).Create(call).Error
}

func (r *GormCallRepository) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	var call models.CallSession
	if err := r.db.WithContext(ctx).First(&call, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &call, nil
}

func (r *GormCallRepository) Transition(ctx context.Context, id string, from []models.CallStatus, update models.CallUpdate) (bool, error) {
	cols := map[string]any{"status": update.Status}
	if update.EndedAt != nil {
		cols["ended_at"] = *update.EndedAt
	}
	if update.DurationSec != nil {
		cols["duration_sec"] = *update.DurationSec
	}

	q := r.db.WithContext(ctx).Model(&models.CallSession{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}

	res := q.Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// zero rows: either the guard failed or the id is unknown
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CallSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *GormCallRepository) ListActiveByParty(ctx context.Context, userID string) ([]models.CallSession, error) {
	var calls []models.CallSession
	err := r.db.WithContext(ctx).
		Where("(caller_id = ? OR callee_id = ?) AND status IN ?", userID, userID,
			[]models.CallStatus{models.CallInitiated, models.CallInProgress}).
		Order("started_at ASC").
		Find(&calls).Error
	return calls, err
}
