package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RaffleStatus string

const (
	RaffleStatusDraft       RaffleStatus = "draft"
	RaffleStatusUnderReview RaffleStatus = "under_review"
	RaffleStatusApproved    RaffleStatus = "approved"
	RaffleStatusActive      RaffleStatus = "active"
	// RaffleStatusClosed means the winner is drawn and delivery is pending
	// confirmation.
	RaffleStatusClosed    RaffleStatus = "closed"
	RaffleStatusDelivered RaffleStatus = "delivered"
	RaffleStatusRejected  RaffleStatus = "rejected"
	RaffleStatusCanceled  RaffleStatus = "canceled"
)

type TicketStatus string

const (
	TicketStatusReserved TicketStatus = "reserved"
	TicketStatusPaid     TicketStatus = "paid"
	TicketStatusCanceled TicketStatus = "canceled"
)

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusPaid     TransactionStatus = "paid"
	TransactionStatusFailed   TransactionStatus = "failed"
	TransactionStatusRefunded TransactionStatus = "refunded"
	TransactionStatusCanceled TransactionStatus = "canceled"
)

// IsTerminal reports whether no confirmation can change the status anymore.
func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionStatusPending
}

type Raffle struct {
	ID                  snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrganizerID         string        `json:"organizer_id"`
	Title               string        `json:"title"`
	Slug                string        `json:"slug"`
	Currency            string        `json:"currency"`
	TicketPrice         int64         `json:"ticket_price"`
	TotalTickets        int64         `json:"total_tickets"`
	GoalAmount          int64         `json:"goal_amount"`
	RaisedAmount        int64         `json:"raised_amount"`
	Status              RaffleStatus  `json:"status"`
	DrawReference       *string       `json:"draw_reference,omitempty"`
	AllowManualDraw     bool          `json:"allow_manual_draw"`
	WinnerTicketID      *snowflake.ID `json:"winner_ticket_id,omitempty"`
	LastPaidAt          *time.Time    `json:"last_paid_at,omitempty"`
	ActivatedAt         *time.Time    `json:"activated_at,omitempty"`
	ResolvedAt          *time.Time    `json:"resolved_at,omitempty"`
	DeliveryConfirmedAt *time.Time    `json:"delivery_confirmed_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

func (Raffle) TableName() string { return "raffles" }

type Ticket struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	RaffleID      snowflake.ID `json:"raffle_id"`
	TransactionID snowflake.ID `json:"transaction_id"`
	Number        int64        `json:"number"`
	OwnerID       string       `json:"owner_id"`
	Status        TicketStatus `json:"status"`
	ReservedAt    time.Time    `json:"reserved_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
	CanceledAt    *time.Time   `json:"canceled_at,omitempty"`
}

func (Ticket) TableName() string { return "tickets" }

type Transaction struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	RaffleID          snowflake.ID      `json:"raffle_id"`
	OwnerID           string            `json:"owner_id"`
	Provider          string            `json:"provider"`
	ProviderPaymentID string            `json:"provider_payment_id"`
	TicketNumbers     datatypes.JSON    `json:"ticket_numbers"`
	Amount            int64             `json:"amount"`
	ProviderFee       int64             `json:"provider_fee"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	ReceivedAt        *time.Time        `json:"received_at,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// PaidTicket is a paid ticket with the time its payment was received, the
// ordering key for draws.
type PaidTicket struct {
	TicketID      snowflake.ID `gorm:"column:ticket_id"`
	Number        int64        `gorm:"column:number"`
	TransactionID snowflake.ID `gorm:"column:transaction_id"`
	OwnerID       string       `gorm:"column:owner_id"`
	ReceivedAt    *time.Time   `gorm:"column:received_at"`
}

// Draw pins the inputs and rule version of a resolution.
type Draw struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	RaffleID       snowflake.ID `json:"raffle_id"`
	ExternalDigits string       `json:"external_digits"`
	RuleVersion    string       `json:"rule_version"`
	TargetNumber   int64        `json:"target_number"`
	WinnerTicketID snowflake.ID `json:"winner_ticket_id"`
	WinnerNumber   int64        `json:"winner_number"`
	ManualOverride bool         `json:"manual_override"`
	ResolvedBy     *string      `json:"resolved_by,omitempty"`
	ResolvedAt     time.Time    `json:"resolved_at"`
}

func (Draw) TableName() string { return "raffle_draws" }

// Payout is immutable once inserted.
type Payout struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	RaffleID         snowflake.ID `json:"raffle_id"`
	Currency         string       `json:"currency"`
	GrossAmount      int64        `json:"gross_amount"`
	CommissionBps    int64        `json:"commission_bps"`
	CommissionAmount int64        `json:"commission_amount"`
	ProviderFeeTotal int64        `json:"provider_fee_total"`
	NetAmount        int64        `json:"net_amount"`
	SettledAt        time.Time    `json:"settled_at"`
}

func (Payout) TableName() string { return "payouts" }
