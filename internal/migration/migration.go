// Package migration owns the schema of every persisted model.
package migration

import (
	"fmt"

	authdomain "github.com/elie222/inbox-zero-sub019/internal/auth/domain"
	digestdomain "github.com/elie222/inbox-zero-sub019/internal/digest/domain"
	executiondomain "github.com/elie222/inbox-zero-sub019/internal/execution/domain"
	queuedomain "github.com/elie222/inbox-zero-sub019/internal/queue/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"

	"gorm.io/gorm"
)

// Models lists persisted types in dependency order.
func Models() []interface{} {
	return []interface{}{
		&authdomain.Account{},
		&authdomain.FCMToken{},
		&ruledomain.Rule{},
		&ruledomain.Action{},
		&ruledomain.Group{},
		&ruledomain.GroupItem{},
		&executiondomain.ExecutedRule{},
		&executiondomain.ExecutedAction{},
		&executiondomain.TrackedThread{},
		&digestdomain.Schedule{},
		&digestdomain.Digest{},
		&digestdomain.Item{},
		&queuedomain.Job{},
		&queuedomain.Lock{},
	}
}

func Run(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Logger.Info().Int("models", len(Models())).Msg("[Migration] Schema up to date")
	return nil
}
