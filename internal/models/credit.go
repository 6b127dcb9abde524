package models

import (
	"time"

	"gorm.io/datatypes"
)

type CreditAccount struct {
	UserID    string    `gorm:"column:user_id;type:text;primaryKey" json:"user_id"`
	Balance   int64     `gorm:"column:balance;type:bigint;not null;default:0" json:"balance"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

type CreditKind string

const (
	CreditReserve    CreditKind = "reserve"
	CreditCompensate CreditKind = "compensate"
	CreditGrant      CreditKind = "grant"
)

// CreditTransaction is the audit trail row for every balance change.
// Amount is signed: reservations are negative.
type CreditTransaction struct {
	ID           string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID       string         `gorm:"column:user_id;type:text;index" json:"user_id"`
	Kind         CreditKind     `gorm:"column:kind;type:text" json:"kind"`
	Amount       int64          `gorm:"column:amount;type:bigint" json:"amount"`
	BalanceAfter int64          `gorm:"column:balance_after;type:bigint" json:"balance_after"`
	Description  string         `gorm:"column:description;type:text" json:"description"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }
