package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/arenapay/backend/internal/models"
)

// RoomService drives the room/match state machine and orchestrates entry-fee
// collection across participants. Fee collection is a saga: the ledger's
// atomicity is scoped to one owner, so a failed debit rolls the round back by
// refunding everyone already charged rather than by a cross-owner transaction.
type RoomService struct {
	db          *sql.DB
	ledger      *LedgerService
	broadcaster Broadcaster
	validator   *ValidationHelper
}

func NewRoomService(db *sql.DB, ledger *LedgerService, broadcaster Broadcaster) *RoomService {
	return &RoomService{
		db:          db,
		ledger:      ledger,
		broadcaster: broadcaster,
		validator:   NewValidationHelper(),
	}
}

// CreateRoom opens a new room. The creator joins as its first participant.
func (s *RoomService) CreateRoom(ctx context.Context, ownerID string, entryFee int64, maxPlayers int) (*models.Room, error) {
	room := &models.Room{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		EntryFee:       entryFee,
		MaxPlayers:     maxPlayers,
		CurrentPlayers: 1,
		Status:         models.RoomStatusOpen,
		CreatedAt:      time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, owner_id, entry_fee, max_players, current_players, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		room.ID, room.OwnerID, room.EntryFee, room.MaxPlayers, room.CurrentPlayers, room.Status, room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, owner_id, status, joined_at)
		VALUES ($1, $2, $3, $4)`,
		room.ID, ownerID, models.ParticipantActive, room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add room owner as participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}

// Join adds a player to an open room. Rejoining after leaving reactivates the
// existing membership; a second join while active is rejected, not re-inserted.
func (s *RoomService) Join(ctx context.Context, roomID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := s.lockRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusOpen {
		return fmt.Errorf("room %s is %s, not open: %w", roomID, room.Status, ErrInvalidStateTransition)
	}
	if room.CurrentPlayers >= room.MaxPlayers {
		return fmt.Errorf("room %s is full: %w", roomID, ErrInvalidStateTransition)
	}

	var status models.ParticipantStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM room_participants WHERE room_id = $1 AND owner_id = $2`,
		roomID, ownerID).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_participants (room_id, owner_id, status, joined_at)
			VALUES ($1, $2, $3, $4)`,
			roomID, ownerID, models.ParticipantActive, time.Now())
		if err != nil {
			return fmt.Errorf("failed to join room: %w", err)
		}
	case err != nil:
		return err
	case status == models.ParticipantActive:
		return fmt.Errorf("already joined room %s: %w", roomID, ErrDuplicateOperation)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE room_participants SET status = $1, joined_at = $2 WHERE room_id = $3 AND owner_id = $4`,
			models.ParticipantActive, time.Now(), roomID, ownerID)
		if err != nil {
			return fmt.Errorf("failed to rejoin room: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rooms SET current_players = current_players + 1 WHERE id = $1`, roomID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Leave marks a participant as left. Leaving mid-match forfeits the entry fee;
// refunds only happen when the whole room is cancelled.
func (s *RoomService) Leave(ctx context.Context, roomID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := s.lockRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusOpen && room.Status != models.RoomStatusOngoing {
		return fmt.Errorf("cannot leave a %s room: %w", room.Status, ErrInvalidStateTransition)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE room_participants SET status = $1 WHERE room_id = $2 AND owner_id = $3 AND status = $4`,
		models.ParticipantLeft, roomID, ownerID, models.ParticipantActive)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("not an active participant of room %s: %w", roomID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rooms SET current_players = GREATEST(current_players - 1, 0) WHERE id = $1`, roomID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// StartRound snapshots the active participants into a new match and collects
// the entry fee from each of them, all players pay or nobody pays. On the
// first failed debit every prior debit is refunded, the match rows are
// removed and the room stays open; the caller re-invokes after participants
// top up or are removed.
func (s *RoomService) StartRound(ctx context.Context, roomID, actorID string, isAdmin bool) (*models.Match, error) {
	match, participants, err := s.createMatchSnapshot(ctx, roomID, actorID, isAdmin)
	if err != nil {
		return nil, err
	}

	comp := &compensation{}
	for _, ownerID := range participants {
		ownerID := ownerID
		_, err := s.ledger.ApplyEntry(ctx, ownerID, -match.EntryFee, models.EntryFee,
			match.ID, "match", fmt.Sprintf("Entry fee for round %d", match.RoundNumber))
		if err != nil {
			s.rollbackRound(ctx, comp, match)
			var insufficient *InsufficientFundsError
			if errors.As(err, &insufficient) {
				return nil, fmt.Errorf("round start aborted, participant %s is short %d: %w",
					insufficient.OwnerID, -insufficient.Amount-insufficient.Balance, err)
			}
			return nil, fmt.Errorf("round start aborted: %w", err)
		}
		comp.add("refund entry fee "+ownerID, func(ctx context.Context) error {
			_, err := s.ledger.ApplyEntry(ctx, ownerID, match.EntryFee, models.EntryFeeRefund,
				match.ID, "match", "Entry fee refund (round start aborted)")
			return err
		})
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET status = $1 WHERE id = $2 AND status = $3`,
		models.RoomStatusOngoing, roomID, models.RoomStatusOpen)
	if err == nil {
		var n int64
		if n, err = result.RowsAffected(); err == nil && n == 0 {
			err = fmt.Errorf("room %s changed state during round start: %w", roomID, ErrInvalidStateTransition)
		}
	}
	if err != nil {
		s.rollbackRound(ctx, comp, match)
		return nil, err
	}

	s.broadcaster.Publish(ctx, match.ID, Event{
		Type:      "match.started",
		Reference: match.ID,
		Data: map[string]any{
			"room_id":      roomID,
			"round_number": match.RoundNumber,
			"entry_fee":    match.EntryFee,
			"participants": participants,
		},
	})
	log.Printf("[ROOM] Round %d started for room %s, %d participants charged %d each",
		match.RoundNumber, roomID, len(participants), match.EntryFee)
	return match, nil
}

// createMatchSnapshot validates the round-start preconditions and writes the
// match and its participant snapshot in one transaction, before any money moves.
func (s *RoomService) createMatchSnapshot(ctx context.Context, roomID, actorID string, isAdmin bool) (*models.Match, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	room, err := s.lockRoom(ctx, tx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.OwnerID != actorID && !isAdmin {
		return nil, nil, fmt.Errorf("only the room owner may start a round: %w", ErrForbidden)
	}
	if room.Status != models.RoomStatusOpen {
		return nil, nil, fmt.Errorf("room %s is %s, not open: %w", roomID, room.Status, ErrInvalidStateTransition)
	}
	if room.EntryFee <= 0 {
		return nil, nil, fmt.Errorf("room %s has no valid entry fee: %w", roomID, ErrInvalidStateTransition)
	}

	// Stable debit order so concurrent rounds across rooms cannot deadlock
	// on wallet locks.
	rows, err := tx.QueryContext(ctx, `
		SELECT owner_id FROM room_participants
		WHERE room_id = $1 AND status = $2
		ORDER BY owner_id`, roomID, models.ParticipantActive)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var ownerID string
		if err := rows.Scan(&ownerID); err != nil {
			return nil, nil, err
		}
		participants = append(participants, ownerID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(participants) < 2 {
		return nil, nil, fmt.Errorf("room %s needs at least 2 active participants: %w", roomID, ErrInvalidStateTransition)
	}

	var roundNumber int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(round_number), 0) + 1 FROM matches WHERE room_id = $1`, roomID).Scan(&roundNumber)
	if err != nil {
		return nil, nil, err
	}

	match := &models.Match{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		RoundNumber: roundNumber,
		EntryFee:    room.EntryFee,
		Status:      models.MatchStatusOngoing,
		StartedAt:   time.Now(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO matches (id, room_id, round_number, entry_fee, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		match.ID, match.RoomID, match.RoundNumber, match.EntryFee, match.Status, match.StartedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create match: %w", err)
	}

	for _, ownerID := range participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_participants (match_id, owner_id, status)
			VALUES ($1, $2, $3)`, match.ID, ownerID, models.ParticipantActive)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to snapshot participant %s: %w", ownerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return match, participants, nil
}

// rollbackRound refunds every committed debit and removes the match rows.
func (s *RoomService) rollbackRound(ctx context.Context, comp *compensation, match *models.Match) {
	if failed := comp.run(ctx); len(failed) > 0 {
		// Refund failures leave charged participants behind; loud log so an
		// operator can reconcile from the ledger.
		log.Printf("[ROOM] ALERT: %d compensation step(s) failed for match %s", len(failed), match.ID)
	}
	if err := s.discardMatch(ctx, match.ID); err != nil {
		log.Printf("[ROOM] Failed to discard match %s: %v", match.ID, err)
	}
}

func (s *RoomService) discardMatch(ctx context.Context, matchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_participants WHERE match_id = $1`, matchID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, matchID); err != nil {
		return err
	}
	return tx.Commit()
}

// CancelRoom cancels a room and refunds the entry fee to every participant of
// its currently-ongoing match, if any. The cancellation is claimed atomically
// first so a concurrent cancel cannot refund twice; if a refund then fails,
// the already-issued refunds are reversed and the previous state is restored.
func (s *RoomService) CancelRoom(ctx context.Context, roomID, actorID string, isAdmin bool) error {
	prevStatus, match, participants, err := s.claimCancellation(ctx, roomID, actorID, isAdmin)
	if err != nil {
		return err
	}

	if match == nil {
		s.broadcastRoomCancelled(ctx, roomID, nil)
		return nil
	}

	comp := &compensation{}
	for _, ownerID := range participants {
		ownerID := ownerID
		_, err := s.ledger.ApplyEntry(ctx, ownerID, match.EntryFee, models.EntryFeeRefund,
			match.ID, "match", "Entry fee refund (room cancelled)")
		if err != nil {
			if failed := comp.run(ctx); len(failed) > 0 {
				log.Printf("[ROOM] ALERT: %d compensation step(s) failed cancelling room %s", len(failed), roomID)
			}
			s.restoreAfterFailedCancel(ctx, roomID, match.ID, prevStatus)
			return fmt.Errorf("cancel aborted, refund to %s failed: %w", ownerID, err)
		}
		comp.add("reverse cancel refund "+ownerID, func(ctx context.Context) error {
			_, err := s.ledger.ApplyEntry(ctx, ownerID, -match.EntryFee, models.EntryFee,
				match.ID, "match", "Entry fee re-applied (cancel aborted)")
			return err
		})
	}

	s.broadcastRoomCancelled(ctx, roomID, match)
	log.Printf("[ROOM] Room %s cancelled, refunded %d participants", roomID, len(participants))
	return nil
}

// claimCancellation flips the room (and any ongoing match) to cancelled in a
// single transaction and returns the refund work list.
func (s *RoomService) claimCancellation(ctx context.Context, roomID, actorID string, isAdmin bool) (models.RoomStatus, *models.Match, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, nil, err
	}
	defer tx.Rollback()

	room, err := s.lockRoom(ctx, tx, roomID)
	if err != nil {
		return "", nil, nil, err
	}
	if room.OwnerID != actorID && !isAdmin {
		return "", nil, nil, fmt.Errorf("only the room owner may cancel: %w", ErrForbidden)
	}
	if room.Status != models.RoomStatusOpen && room.Status != models.RoomStatusOngoing {
		return "", nil, nil, fmt.Errorf("room %s is already %s: %w", roomID, room.Status, ErrInvalidStateTransition)
	}

	var match *models.Match
	var participants []string

	var m models.Match
	err = tx.QueryRowContext(ctx, `
		SELECT id, room_id, round_number, entry_fee, status, started_at
		FROM matches
		WHERE room_id = $1 AND status = $2`, roomID, models.MatchStatusOngoing).Scan(
		&m.ID, &m.RoomID, &m.RoundNumber, &m.EntryFee, &m.Status, &m.StartedAt)
	if err != nil && err != sql.ErrNoRows {
		return "", nil, nil, err
	}
	if err == nil {
		match = &m
		rows, err := tx.QueryContext(ctx, `
			SELECT owner_id FROM match_participants WHERE match_id = $1 ORDER BY owner_id`, m.ID)
		if err != nil {
			return "", nil, nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var ownerID string
			if err := rows.Scan(&ownerID); err != nil {
				return "", nil, nil, err
			}
			participants = append(participants, ownerID)
		}
		if err := rows.Err(); err != nil {
			return "", nil, nil, err
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE matches SET status = $1, completed_at = $2 WHERE id = $3`,
			models.MatchStatusCancelled, now, m.ID); err != nil {
			return "", nil, nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET status = $1 WHERE id = $2`, models.RoomStatusCancelled, roomID); err != nil {
		return "", nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return "", nil, nil, err
	}
	return room.Status, match, participants, nil
}

func (s *RoomService) restoreAfterFailedCancel(ctx context.Context, roomID, matchID string, prevStatus models.RoomStatus) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[ROOM] Failed to restore room %s after aborted cancel: %v", roomID, err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE matches SET status = $1, completed_at = NULL WHERE id = $2`,
		models.MatchStatusOngoing, matchID); err != nil {
		log.Printf("[ROOM] Failed to restore match %s after aborted cancel: %v", matchID, err)
		return
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET status = $1 WHERE id = $2`, prevStatus, roomID); err != nil {
		log.Printf("[ROOM] Failed to restore room %s after aborted cancel: %v", roomID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[ROOM] Failed to restore room %s after aborted cancel: %v", roomID, err)
	}
}

// Reopen returns a settled room to the open state so it can host the next
// round. Reopening is an explicit owner action, never automatic.
func (s *RoomService) Reopen(ctx context.Context, roomID, actorID string, isAdmin bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	room, err := s.lockRoom(ctx, tx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != actorID && !isAdmin {
		return fmt.Errorf("only the room owner may reopen: %w", ErrForbidden)
	}
	if room.Status != models.RoomStatusCompleted {
		return fmt.Errorf("room %s is %s, only completed rooms reopen: %w", roomID, room.Status, ErrInvalidStateTransition)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET status = $1 WHERE id = $2`, models.RoomStatusOpen, roomID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRoom returns a room with its participants.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, []models.RoomParticipant, error) {
	var room models.Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, entry_fee, max_players, current_players, status, created_at
		FROM rooms WHERE id = $1`, roomID).Scan(
		&room.ID, &room.OwnerID, &room.EntryFee, &room.MaxPlayers,
		&room.CurrentPlayers, &room.Status, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, owner_id, status, joined_at
		FROM room_participants WHERE room_id = $1 ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var participants []models.RoomParticipant
	for rows.Next() {
		var p models.RoomParticipant
		if err := rows.Scan(&p.RoomID, &p.OwnerID, &p.Status, &p.JoinedAt); err != nil {
			return nil, nil, err
		}
		participants = append(participants, p)
	}
	return &room, participants, rows.Err()
}

func (s *RoomService) lockRoom(ctx context.Context, tx *sql.Tx, roomID string) (*models.Room, error) {
	var room models.Room
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, entry_fee, max_players, current_players, status, created_at
		FROM rooms
		WHERE id = $1
		FOR UPDATE`, roomID).Scan(
		&room.ID, &room.OwnerID, &room.EntryFee, &room.MaxPlayers,
		&room.CurrentPlayers, &room.Status, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *RoomService) broadcastRoomCancelled(ctx context.Context, roomID string, match *models.Match) {
	event := Event{
		Type:      "room.cancelled",
		Reference: roomID,
	}
	if match != nil {
		event.Data = map[string]any{"match_id": match.ID, "refunded_fee": match.EntryFee}
	}
	s.broadcaster.Publish(ctx, roomID, event)
}
