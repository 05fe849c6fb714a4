package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Monthlyaway/short-rules/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RuleRepository handles database operations for owners, rules,
// collections and audit logs
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a repository backed by MySQL
func NewRuleRepository(dsn string, maxIdleConns, maxOpenConns int) (*RuleRepository, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)

	return NewRuleRepositoryWithDB(db)
}

// NewRuleRepositoryWithDB creates a repository on an already opened
// gorm connection and migrates the schema
func NewRuleRepositoryWithDB(db *gorm.DB) (*RuleRepository, error) {
	if err := db.AutoMigrate(&model.Owner{}, &model.Rule{}, &model.Collection{}, &model.Log{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &RuleRepository{db: db}, nil
}

// GetOwnerBySessionToken retrieves an owner by its session token
func (r *RuleRepository) GetOwnerBySessionToken(ctx context.Context, token string) (*model.Owner, error) {
	var owner model.Owner
	if err := r.db.WithContext(ctx).Where("session_token = ?", token).First(&owner).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}
	return &owner, nil
}

// CreateOwner creates a new owner. A concurrent creation for the same
// session token surfaces as gorm.ErrDuplicatedKey.
func (r *RuleRepository) CreateOwner(ctx context.Context, owner *model.Owner) error {
	if err := r.db.WithContext(ctx).Create(owner).Error; err != nil {
		return fmt.Errorf("failed to create owner: %w", err)
	}
	return nil
}

// SubpartExists checks whether any rule already uses the subpart
func (r *RuleRepository) SubpartExists(ctx context.Context, subpart string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Rule{}).
		Where("subpart = ?", subpart).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check subpart: %w", err)
	}
	return count > 0, nil
}

// CreateRule persists a rule together with the collection row linking
// it to its owner. The unique index on subpart is the authority on
// duplicates; violations surface as gorm.ErrDuplicatedKey.
func (r *RuleRepository) CreateRule(ctx context.Context, rule *model.Rule) (*model.Collection, error) {
	col := &model.Collection{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		col.OwnerID = rule.OwnerID
		col.RuleID = &rule.ID
		return tx.Create(col).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return col, nil
}

// GetRuleByID retrieves a rule by its identifier
func (r *RuleRepository) GetRuleByID(ctx context.Context, id int64) (*model.Rule, error) {
	var rule model.Rule
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ListRulesByOwner retrieves an owner's rules through the collection
// table, sorted ascending by expire date
func (r *RuleRepository) ListRulesByOwner(ctx context.Context, ownerID uint) ([]model.Rule, error) {
	var rules []model.Rule
	if err := r.db.WithContext(ctx).Model(&model.Rule{}).
		Joins("JOIN collections ON collections.rule_id = rules.id").
		Where("collections.owner_id = ?", ownerID).
		Order("rules.expire_date ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list owner rules: %w", err)
	}
	return rules, nil
}

// ListAllRules retrieves every rule sorted ascending by expire date
func (r *RuleRepository) ListAllRules(ctx context.Context) ([]model.Rule, error) {
	var rules []model.Rule
	if err := r.db.WithContext(ctx).Order("expire_date ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// DeleteExpired deletes every rule whose expire date is on or before
// asOf and the collection rows referencing them. Returns the deleted
// rule identifiers; idempotent.
func (r *RuleRepository) DeleteExpired(ctx context.Context, asOf time.Time) (ids []int64, owners []uint, err error) {
	cutoff := model.DateOf(asOf)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []model.Rule
		if err := tx.Where("expire_date <= ?", cutoff).Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		seen := make(map[uint]bool)
		for _, rule := range expired {
			ids = append(ids, rule.ID)
			if !seen[rule.OwnerID] {
				seen[rule.OwnerID] = true
				owners = append(owners, rule.OwnerID)
			}
		}
		if err := tx.Where("rule_id IN ?", ids).Delete(&model.Collection{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&model.Rule{}).Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to delete expired rules: %w", err)
	}
	return ids, owners, nil
}

// DeleteRule deletes a single rule and its collection rows. Returns
// gorm.ErrRecordNotFound when the rule does not exist.
func (r *RuleRepository) DeleteRule(ctx context.Context, id int64) (*model.Rule, error) {
	var rule model.Rule
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&rule).Error; err != nil {
			return err
		}
		if err := tx.Where("rule_id = ?", id).Delete(&model.Collection{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Rule{}, id).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete rule: %w", err)
	}
	return &rule, nil
}

// CreateLog appends an audit entry
func (r *RuleRepository) CreateLog(ctx context.Context, entry *model.Log) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create log entry: %w", err)
	}
	return nil
}

// GetAllSubparts retrieves every subpart currently in use
func (r *RuleRepository) GetAllSubparts(ctx context.Context) ([]string, error) {
	var subparts []string
	if err := r.db.WithContext(ctx).Model(&model.Rule{}).
		Pluck("subpart", &subparts).Error; err != nil {
		return nil, fmt.Errorf("failed to get all subparts: %w", err)
	}
	return subparts, nil
}

// Close closes the database connection
func (r *RuleRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the underlying database instance
func (r *RuleRepository) GetDB() *gorm.DB {
	return r.db
}
