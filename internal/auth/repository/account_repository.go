package repository

import (
	"errors"
	"strings"
	"time"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository persists connected mailboxes.
type AccountRepository interface {
	Create(account *authdomain.Account) error
	Upsert(account *authdomain.Account) error
	FindByEmail(email string) (*authdomain.Account, error)
	FindByID(id string) (*authdomain.Account, error)
	Update(account *authdomain.Account) error
	UpdateTokens(id, accessToken, refreshToken string, expiry *time.Time) error
	UpdateCursor(id, cursor string) error
	UpdateWatchExpiry(id string, expiresAt time.Time) error
	ListByProvider(provider string) ([]authdomain.Account, error)
	ListWatchesExpiringBefore(t time.Time) ([]authdomain.Account, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of accountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{
		db: db,
	}
}

func (r *accountRepository) Create(account *authdomain.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	return r.db.Create(account).Error
}

// Upsert creates the account or refreshes its credentials when the
// address is already connected.
func (r *accountRepository) Upsert(account *authdomain.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "provider", "access_token", "refresh_token", "token_expiry",
			"imap_server", "imap_port", "imap_username", "imap_password",
			"smtp_server", "smtp_port", "updated_at",
		}),
	}).Create(account).Error
}

func (r *accountRepository) FindByEmail(email string) (*authdomain.Account, error) {
	var account authdomain.Account
	err := r.db.Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindByID(id string) (*authdomain.Account, error) {
	var account authdomain.Account
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Update(account *authdomain.Account) error {
	account.UpdatedAt = time.Now().UTC()
	return r.db.Save(account).Error
}

func (r *accountRepository) UpdateTokens(id, accessToken, refreshToken string, expiry *time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
		"updated_at":   time.Now().UTC(),
	}
	// Google only returns a refresh token on first consent.
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.Model(&authdomain.Account{}).Where("id = ?", id).Updates(updates).Error
}

func (r *accountRepository) UpdateCursor(id, cursor string) error {
	return r.db.Model(&authdomain.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"history_cursor": cursor,
		"updated_at":     time.Now().UTC(),
	}).Error
}

func (r *accountRepository) UpdateWatchExpiry(id string, expiresAt time.Time) error {
	return r.db.Model(&authdomain.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"watch_expires_at": expiresAt.UTC(),
		"updated_at":       time.Now().UTC(),
	}).Error
}

func (r *accountRepository) ListByProvider(provider string) ([]authdomain.Account, error) {
	var accounts []authdomain.Account
	if err := r.db.Where("provider = ?", provider).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) ListWatchesExpiringBefore(t time.Time) ([]authdomain.Account, error) {
	var accounts []authdomain.Account
	err := r.db.Where("provider = ? AND (watch_expires_at IS NULL OR watch_expires_at < ?)", authdomain.ProviderGoogle, t.UTC()).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
