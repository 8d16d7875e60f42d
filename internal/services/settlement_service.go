package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/arenapay/backend/internal/models"
)

// SettlementService closes a match: the prize pool is split between the
// winner and the platform's reserved account with exact integer conservation,
// and the match and room are marked completed, all in one transaction.
type SettlementService struct {
	db          *sql.DB
	ledger      *LedgerService
	broadcaster Broadcaster

	// feeRateBP is the platform cut in basis points (1000 = 10%).
	feeRateBP       int64
	platformAccount string
}

func NewSettlementService(db *sql.DB, ledger *LedgerService, broadcaster Broadcaster, feeRateBP int64, platformAccount string) *SettlementService {
	return &SettlementService{
		db:              db,
		ledger:          ledger,
		broadcaster:     broadcaster,
		feeRateBP:       feeRateBP,
		platformAccount: platformAccount,
	}
}

// Settlement is the result of closing a match.
type Settlement struct {
	MatchID     string `json:"match_id"`
	WinnerID    string `json:"winner_id"`
	TotalPool   int64  `json:"total_pool"`
	PlatformFee int64  `json:"platform_fee"`
	PrizeAmount int64  `json:"prize_amount"`
}

// splitPool computes the prize/fee split with floor division. The prize is
// derived by subtraction so prize + fee == pool holds exactly, never by a
// second independent rounding.
func splitPool(entryFee int64, activeParticipants int, feeRateBP int64) (total, fee, prize int64) {
	total = entryFee * int64(activeParticipants)
	fee = total * feeRateBP / 10000
	prize = total - fee
	return total, fee, prize
}

// Settle pays out a match exactly once. A second call on the same match fails
// with ErrAlreadySettled rather than double-crediting.
func (s *SettlementService) Settle(ctx context.Context, matchID, winnerID, proofRef, actorID string, isAdmin bool) (*Settlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var match models.Match
	err = tx.QueryRowContext(ctx, `
		SELECT id, room_id, round_number, entry_fee, status, started_at
		FROM matches
		WHERE id = $1
		FOR UPDATE`, matchID).Scan(
		&match.ID, &match.RoomID, &match.RoundNumber, &match.EntryFee, &match.Status, &match.StartedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	switch match.Status {
	case models.MatchStatusOngoing:
	case models.MatchStatusCompleted:
		return nil, fmt.Errorf("match %s: %w", matchID, ErrAlreadySettled)
	default:
		return nil, fmt.Errorf("match %s is %s, not ongoing: %w", matchID, match.Status, ErrInvalidStateTransition)
	}

	var roomOwner string
	err = tx.QueryRowContext(ctx, `
		SELECT owner_id FROM rooms WHERE id = $1`, match.RoomID).Scan(&roomOwner)
	if err != nil {
		return nil, err
	}
	if roomOwner != actorID && !isAdmin {
		return nil, fmt.Errorf("only the room owner may settle: %w", ErrForbidden)
	}

	var winnerRows, activeCount int
	err = tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE owner_id = $2),
			COUNT(*)
		FROM match_participants
		WHERE match_id = $1 AND status = $3`,
		matchID, winnerID, models.ParticipantActive).Scan(&winnerRows, &activeCount)
	if err != nil {
		return nil, err
	}
	if winnerRows == 0 {
		return nil, fmt.Errorf("%s in match %s: %w", winnerID, matchID, ErrInvalidWinner)
	}

	total, fee, prize := splitPool(match.EntryFee, activeCount, s.feeRateBP)
	if prize+fee != total {
		// Unreachable by construction; fatal if ever seen.
		return nil, fmt.Errorf("pool %d != prize %d + fee %d: %w", total, prize, fee, ErrIntegrityViolation)
	}

	poolMeta := models.Metadata{
		"total_pool":   total,
		"platform_fee": fee,
		"prize_amount": prize,
		"participants": activeCount,
	}

	// Winner first, platform reserve last: a fixed lock order across all
	// settlements so concurrent settles cannot deadlock on the reserve wallet.
	_, err = s.ledger.ApplyEntryTx(ctx, tx, winnerID, prize, models.EntryPrize,
		matchID, "match", fmt.Sprintf("Prize for round %d", match.RoundNumber), poolMeta)
	if err != nil {
		return nil, fmt.Errorf("prize credit failed: %w", err)
	}
	if fee > 0 {
		_, err = s.ledger.ApplyEntryTx(ctx, tx, s.platformAccount, fee, models.EntryPlatformFee,
			matchID, "match", fmt.Sprintf("Platform fee for round %d", match.RoundNumber), poolMeta)
		if err != nil {
			return nil, fmt.Errorf("platform fee credit failed: %w", err)
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE matches SET status = $1, winner_id = $2, proof_reference = $3, completed_at = $4 WHERE id = $5`,
		models.MatchStatusCompleted, winnerID, proofRef, now, matchID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET status = $1 WHERE id = $2`,
		models.RoomStatusCompleted, match.RoomID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	settlement := &Settlement{
		MatchID:     matchID,
		WinnerID:    winnerID,
		TotalPool:   total,
		PlatformFee: fee,
		PrizeAmount: prize,
	}
	s.broadcaster.Publish(ctx, matchID, Event{
		Type:      "match.settled",
		Reference: matchID,
		Data:      settlement,
	})
	log.Printf("[SETTLE] Match %s settled: pool %d, prize %d to %s, fee %d", matchID, total, prize, winnerID, fee)
	return settlement, nil
}
