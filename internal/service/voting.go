package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"council/internal/database"
	"council/internal/metrics"
	"council/internal/models"
)

// Voting is the proposal state machine. It assumes the caller has already
// authorized the action; its own rejections are business rules, returned as
// the sentinels in errors.go.
type Voting struct {
	store *database.Store
}

func NewVoting(store *database.Store) *Voting {
	return &Voting{store: store}
}

// CreateProposal validates the input, then atomically inserts the proposal
// and one option row per label at positions 0..n-1. The end timestamp is
// computed server-side from the creation time.
func (v *Voting) CreateProposal(ctx context.Context, roomID, title, description string, options []string, creator uuid.UUID, durationHours int) (*models.Proposal, error) {
	if strings.TrimSpace(title) == "" {
		return nil, validationf("title is required")
	}
	if len(options) < 2 {
		return nil, validationf("a proposal needs at least two options")
	}
	for _, label := range options {
		if strings.TrimSpace(label) == "" {
			return nil, validationf("option labels must be non-empty")
		}
	}
	if durationHours < models.MinDurationHours || durationHours > models.MaxDurationHours {
		return nil, validationf("duration must be between 1 and 168 hours")
	}

	now := time.Now()
	creatorID := creator
	proposal := models.Proposal{
		RoomID:        roomID,
		Title:         title,
		Description:   description,
		CreatedBy:     &creatorID,
		Status:        models.ProposalStatusActive,
		DurationHours: durationHours,
		EndsAt:        now.Add(time.Duration(durationHours) * time.Hour),
		CreatedAt:     now,
	}

	err := v.store.Atomic(ctx, func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if room.Status == models.RoomStatusDeleted {
			return ErrRoomDeleted
		}
		if err := tx.Create(&proposal).Error; err != nil {
			return err
		}
		for i, label := range options {
			opt := models.ProposalOption{
				ProposalID: proposal.ID,
				Label:      label,
				Position:   i,
			}
			if err := tx.Create(&opt).Error; err != nil {
				return err
			}
			proposal.Options = append(proposal.Options, opt)
		}
		return tx.Create(&models.AuditEntry{
			RoomID:    roomID,
			UserID:    &creatorID,
			Action:    "proposal.create",
			Detail:    title,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, ErrRoomDeleted) {
			return nil, err
		}
		return nil, fmt.Errorf("create proposal: %w", err)
	}
	return &proposal, nil
}

// CloseExpiredProposals flips every active proposal in the room whose window
// has passed to closed. Invoked at the top of every proposal read path, so
// callers always observe accurate status without a background timer.
func (v *Voting) CloseExpiredProposals(ctx context.Context, roomID string) error {
	now := time.Now()
	return v.store.DB(ctx).Model(&models.Proposal{}).
		Where("room_id = ? AND status = ? AND ends_at <= ?", roomID, models.ProposalStatusActive, now).
		Updates(map[string]interface{}{
			"status":    models.ProposalStatusClosed,
			"closed_at": now,
		}).Error
}

// ListProposals returns the room's proposals, newest first, options in
// position order. The lazy expiry sweep runs first.
func (v *Voting) ListProposals(ctx context.Context, roomID string, activeOnly bool) ([]models.Proposal, error) {
	if err := v.CloseExpiredProposals(ctx, roomID); err != nil {
		return nil, fmt.Errorf("expiry sweep: %w", err)
	}
	q := v.store.DB(ctx).Where("room_id = ?", roomID)
	if activeOnly {
		q = q.Where("status = ?", models.ProposalStatusActive)
	}
	var proposals []models.Proposal
	err := q.Preload("Options", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Order("created_at DESC").Find(&proposals).Error
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return proposals, nil
}

// CastVote records the user's choice. The whole sequence runs in one
// transaction with the proposal row locked, so a vote and a close on the
// same proposal cannot interleave:
//
//  1. lock and re-read the proposal
//  2. if it is no longer active, or its window has passed, flip it to
//     closed (self-healing expiry) and reject with ErrVotingClosed
//  3. verify the option belongs to this proposal
//  4. upsert the (proposal, user) row, overwriting any previous choice
func (v *Voting) CastVote(ctx context.Context, roomID string, proposalID, userID, optionID uuid.UUID) error {
	err := v.store.Atomic(ctx, func(tx *gorm.DB) error {
		var proposal models.Proposal
		err := database.LockForUpdate(tx).
			Where("id = ? AND room_id = ?", proposalID, roomID).
			First(&proposal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProposalNotFound
		}
		if err != nil {
			return err
		}

		now := time.Now()
		if proposal.Status != models.ProposalStatusActive {
			return ErrVotingClosed
		}
		if !proposal.EndsAt.After(now) {
			if err := tx.Model(&proposal).Updates(map[string]interface{}{
				"status":    models.ProposalStatusClosed,
				"closed_at": now,
			}).Error; err != nil {
				return err
			}
			return ErrVotingClosed
		}

		var count int64
		if err := tx.Model(&models.ProposalOption{}).
			Where("id = ? AND proposal_id = ?", optionID, proposalID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrInvalidOption
		}

		vote := models.Vote{
			ProposalID: proposalID,
			UserID:     userID,
			OptionID:   optionID,
			CastAt:     now,
		}
		return database.Upsert(tx, &vote,
			[]string{"proposal_id", "user_id"},
			[]string{"option_id", "cast_at"},
		)
	})
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) || errors.Is(err, ErrVotingClosed) || errors.Is(err, ErrInvalidOption) {
			return err
		}
		return fmt.Errorf("cast vote: %w", err)
	}
	metrics.VotesCast.Inc()
	return nil
}

// CloseProposal is the idempotent terminal transition. Closing an
// already-closed proposal succeeds without changing anything except the
// commentary reference, which is attached only when none exists yet
// (first writer wins).
func (v *Voting) CloseProposal(ctx context.Context, roomID string, proposalID uuid.UUID, resultMessageID *uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	err := v.store.Atomic(ctx, func(tx *gorm.DB) error {
		err := database.LockForUpdate(tx).
			Where("id = ? AND room_id = ?", proposalID, roomID).
			First(&proposal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProposalNotFound
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if proposal.Status == models.ProposalStatusActive {
			now := time.Now()
			updates["status"] = models.ProposalStatusClosed
			updates["closed_at"] = now
			proposal.Status = models.ProposalStatusClosed
			proposal.ClosedAt = &now
		}
		if resultMessageID != nil {
			updates["result_message_id"] = gorm.Expr("COALESCE(result_message_id, ?)", *resultMessageID)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.Proposal{}).Where("id = ?", proposalID).Updates(updates).Error; err != nil {
			return err
		}
		if proposal.ResultMessageID == nil {
			proposal.ResultMessageID = resultMessageID
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("close proposal: %w", err)
	}
	return &proposal, nil
}

// OptionResult is the tally for one option, zero-vote options included.
type OptionResult struct {
	OptionID uuid.UUID `json:"option_id"`
	Label    string    `json:"label"`
	Position int       `json:"position"`
	Count    int       `json:"count"`
	Voters   []string  `json:"voters"`
}

// Results is the full tally of a proposal. Winner is nil on a tie or when
// nobody voted; it is never an arbitrary pick.
type Results struct {
	ProposalID uuid.UUID      `json:"proposal_id"`
	Status     string         `json:"status"`
	Options    []OptionResult `json:"options"`
	TotalVotes int            `json:"total_votes"`
	Winner     *OptionResult  `json:"winner,omitempty"`
}

// ComputeResults tallies votes per option via a LEFT JOIN so options with no
// votes still appear with count 0, and resolves the strict-maximum winner.
func (v *Voting) ComputeResults(ctx context.Context, roomID string, proposalID uuid.UUID) (*Results, error) {
	if err := v.CloseExpiredProposals(ctx, roomID); err != nil {
		return nil, fmt.Errorf("expiry sweep: %w", err)
	}

	var proposal models.Proposal
	err := v.store.DB(ctx).Where("id = ? AND room_id = ?", proposalID, roomID).First(&proposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}

	type tallyRow struct {
		OptionID uuid.UUID
		Label    string
		Position int
		Count    int
	}
	var rows []tallyRow
	err = v.store.DB(ctx).
		Table("proposal_options").
		Select(`proposal_options.id AS option_id, proposal_options.label, proposal_options.position,
			COUNT(votes.user_id) AS count`).
		Joins("LEFT JOIN votes ON votes.option_id = proposal_options.id").
		Where("proposal_options.proposal_id = ?", proposalID).
		Group("proposal_options.id, proposal_options.label, proposal_options.position").
		Order("proposal_options.position ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}

	var votes []models.Vote
	if err := v.store.DB(ctx).Where("proposal_id = ?", proposalID).Preload("User").Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("load voters: %w", err)
	}
	votersByOption := make(map[uuid.UUID][]string)
	for _, vote := range votes {
		votersByOption[vote.OptionID] = append(votersByOption[vote.OptionID], vote.User.DisplayName)
	}

	results := &Results{ProposalID: proposalID, Status: proposal.Status}
	maxCount, maxIdx, tied := 0, -1, false
	for i, row := range rows {
		voters := votersByOption[row.OptionID]
		if voters == nil {
			voters = []string{}
		}
		results.Options = append(results.Options, OptionResult{
			OptionID: row.OptionID,
			Label:    row.Label,
			Position: row.Position,
			Count:    row.Count,
			Voters:   voters,
		})
		results.TotalVotes += row.Count
		switch {
		case row.Count > maxCount:
			maxCount, maxIdx, tied = row.Count, i, false
		case row.Count == maxCount && row.Count > 0:
			tied = true
		}
	}
	if maxIdx >= 0 && !tied && maxCount > 0 {
		winner := results.Options[maxIdx]
		results.Winner = &winner
	}
	return results, nil
}
