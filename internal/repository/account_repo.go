package repository

import (
	"context"
	"errors"

	"creditgate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNoCredits       = errors.New("no credits left")
	ErrIdentityInUse   = errors.New("identity already bound to an account")
	ErrInvalidAmount   = errors.New("credit amount must be positive")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// inTx 在调用方事务内执行；tx 为 nil 时开启新事务
func (r *AccountRepository) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx.WithContext(ctx))
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *AccountRepository) GetByIdentity(ctx context.Context, identity string) (*model.Account, error) {
	return getByIdentity(r.db.WithContext(ctx), identity)
}

func getByIdentity(db *gorm.DB, identity string) (*model.Account, error) {
	var account model.Account
	err := db.Where("identity = ?", identity).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindByEmail 按邮箱精确查找；多个账户共用邮箱时取最近更新的一个
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("updated_at DESC").
		Order("id DESC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 并发首次创建同一 identity 时，唯一索引冲突视为成功，再读一次即可
func (r *AccountRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, identity string) (*model.Account, error) {
	db := tx
	if db == nil {
		db = r.db
	}
	db = db.WithContext(ctx)

	account, err := getByIdentity(db, identity)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	if err := ensureAccount(db, identity); err != nil {
		return nil, err
	}
	return getByIdentity(db, identity)
}

func ensureAccount(db *gorm.DB, identity string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoNothing: true,
	}).Create(&model.Account{Identity: identity, Credits: 0}).Error
}

// TryReserveOne 预扣 1 个额度，检查和扣减是同一条条件更新语句
// 返回扣减前的余额；余额为 0 时返回 ErrNoCredits
func (r *AccountRepository) TryReserveOne(ctx context.Context, identity string) (int64, error) {
	var before int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Account{}).
			Where("identity = ? AND credits > 0", identity).
			Updates(map[string]interface{}{
				"credits": gorm.Expr("credits - 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNoCredits
		}

		account, err := getByIdentity(tx, identity)
		if err != nil {
			return err
		}
		before = account.Credits + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return before, nil
}

// Credit 增加额度，账户不存在时先创建；email 非空时一并更新
func (r *AccountRepository) Credit(ctx context.Context, tx *gorm.DB, identity string, amount int64, email string) (*model.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var account *model.Account
	err := r.inTx(ctx, tx, func(tx *gorm.DB) error {
		if err := ensureAccount(tx, identity); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"credits": gorm.Expr("credits + ?", amount),
		}
		if email != "" {
			updates["email"] = email
		}

		result := tx.Model(&model.Account{}).
			Where("identity = ?", identity).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		var err error
		account, err = getByIdentity(tx, identity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// RebindIdentity 把 oldIdentity 的账户整体改挂到 newIdentity，余额和邮箱保持不变
// newIdentity 已有账户时返回 ErrIdentityInUse，不合并余额
func (r *AccountRepository) RebindIdentity(ctx context.Context, tx *gorm.DB, oldIdentity, newIdentity string) (*model.Account, error) {
	var account *model.Account
	err := r.inTx(ctx, tx, func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&model.Account{}).
			Where("identity = ?", newIdentity).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrIdentityInUse
		}

		result := tx.Model(&model.Account{}).
			Where("identity = ?", oldIdentity).
			Updates(map[string]interface{}{
				"identity": newIdentity,
			})
		if result.Error != nil {
			// 并发创建了 newIdentity，唯一索引兜底
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return ErrIdentityInUse
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		var err error
		account, err = getByIdentity(tx, newIdentity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) GetBalance(ctx context.Context, identity string) (int64, error) {
	account, err := r.GetByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Credits, nil
}
