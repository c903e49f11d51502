package repositories

import (
	"time"

	"gorm.io/gorm"

	"github.com/tphan267/pulse-relay/pkg/models"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a session for userID valid until expiresAt
func (r *SessionRepository) Create(token string, userID int64, expiresAt time.Time) (*models.Session, error) {
	session := &models.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := r.db.Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session for token, expired or not
func (r *SessionRepository) Get(token string) (*models.Session, error) {
	var session models.Session
	if err := r.db.Where("token = ?", token).First(&session).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &session, nil
}

// Delete removes a single session
func (r *SessionRepository) Delete(token string) error {
	return r.db.Where("token = ?", token).Delete(&models.Session{}).Error
}

// DeleteForUser removes every session of a user
func (r *SessionRepository) DeleteForUser(userID int64) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// DeleteExpired removes sessions that expired before now and reports how many
func (r *SessionRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

func (r *SessionRepository) Count() (int, error) {
	var count int64
	if err := r.db.Model(&models.Session{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
