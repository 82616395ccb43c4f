package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/drawline/internal/ledger/domain"
	"gorm.io/gorm"
)

func (r *repo) InsertDraw(ctx context.Context, db *gorm.DB, draw *domain.Draw) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO raffle_draws (
			id, raffle_id, external_digits, rule_version, target_number,
			winner_ticket_id, winner_number, manual_override, resolved_by, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (raffle_id) DO NOTHING`,
		draw.ID,
		draw.RaffleID,
		draw.ExternalDigits,
		draw.RuleVersion,
		draw.TargetNumber,
		draw.WinnerTicketID,
		draw.WinnerNumber,
		draw.ManualOverride,
		draw.ResolvedBy,
		draw.ResolvedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) GetDraw(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) (*domain.Draw, error) {
	var draw domain.Draw
	result := db.WithContext(ctx).Raw(
		`SELECT id, raffle_id, external_digits, rule_version, target_number,
			winner_ticket_id, winner_number, manual_override, resolved_by, resolved_at
		 FROM raffle_draws WHERE raffle_id = ?`,
		raffleID,
	).Scan(&draw)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &draw, nil
}

func (r *repo) InsertPayout(ctx context.Context, db *gorm.DB, payout *domain.Payout) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, raffle_id, currency, gross_amount, commission_bps, commission_amount,
			provider_fee_total, net_amount, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (raffle_id) DO NOTHING`,
		payout.ID,
		payout.RaffleID,
		payout.Currency,
		payout.GrossAmount,
		payout.CommissionBps,
		payout.CommissionAmount,
		payout.ProviderFeeTotal,
		payout.NetAmount,
		payout.SettledAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) GetPayout(ctx context.Context, db *gorm.DB, raffleID snowflake.ID) (*domain.Payout, error) {
	var payout domain.Payout
	result := db.WithContext(ctx).Raw(
		`SELECT id, raffle_id, currency, gross_amount, commission_bps, commission_amount,
			provider_fee_total, net_amount, settled_at
		 FROM payouts WHERE raffle_id = ?`,
		raffleID,
	).Scan(&payout)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payout, nil
}
