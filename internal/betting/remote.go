// internal/betting/remote.go
package betting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mysterybox/internal/apperr"
	"github.com/jason-s-yu/mysterybox/internal/models"
	"github.com/jason-s-yu/mysterybox/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ApplyRemoteEvent mirrors a bet transition relayed from another client in the room.
// A relayed snapshot never speaks for the local user: their participation is always the
// one recorded by JoinBet here, and credits or refunds are computed against it. A result
// that was settled without the local stake refunds that stake. Events for bets already
// settled here are ignored.
func (e *Engine) ApplyRemoteEvent(ctx context.Context, ev protocol.BetEvent) error {
	if ev.Bet == nil || ev.Bet.ID == uuid.Nil {
		return fmt.Errorf("%w: bet event without a bet", apperr.ErrValidation)
	}
	me := e.userID()
	incoming := ev.Bet.Clone()
	relayed := incoming.Participation(me)
	if relayed != nil {
		cp := *relayed
		relayed = &cp
	}
	dropParticipant(incoming, me)

	e.mu.Lock()
	if e.settledLocked(incoming.ID) {
		e.mu.Unlock()
		return nil
	}
	local := e.active[incoming.ID]
	var mine *models.BetParticipant
	if local != nil {
		if local.CreatorID != incoming.CreatorID {
			e.mu.Unlock()
			return fmt.Errorf("%w: bet %s creator does not match", apperr.ErrValidation, incoming.ID)
		}
		if p := local.Participation(me); p != nil {
			cp := *p
			mine = &cp
		}
	}

	var (
		out          *models.Bet
		credit       int64
		archived     bool
		balanceDirty bool
	)
	switch ev.Type {
	case protocol.EventBetCreated, protocol.EventBetJoined:
		if local == nil {
			local = incoming
			e.active[local.ID] = local
		} else {
			mergeParticipants(local, incoming.Participants)
		}
		refreshOdds(local)
		out = local.Clone()

	case protocol.EventBetResolved:
		if incoming.Result == nil {
			e.mu.Unlock()
			return fmt.Errorf("%w: resolved bet without a result", apperr.ErrValidation)
		}
		incoming.Status = models.BetCompleted
		switch {
		case mine == nil:
		case sameStake(mine, relayed):
			incoming.Participants = append(incoming.Participants, *mine)
			credit = incoming.Result.PayoutFor(me)
			if credit > incoming.Result.TotalPool {
				credit = incoming.Result.TotalPool
			}
		default:
			// Settled without the local stake; refund it.
			credit = mine.Amount
			e.log.WithFields(logrus.Fields{"bet": incoming.ID, "amount": mine.Amount}).Warn("betting: stake missed the resolution, refunding")
		}
		if credit > 0 {
			e.balance = e.balance.Add(incoming.Currency, credit)
			balanceDirty = true
		}
		e.archiveLocked(incoming)
		archived = true
		out = incoming.Clone()

	case protocol.EventBetCancelled:
		if local != nil {
			mergeParticipants(incoming, local.Participants)
		}
		var refunded bool
		out, _, refunded = e.cancelLocked(incoming, me, incoming.CancelReason)
		balanceDirty = refunded
		archived = true

	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: %q is not a bet event", apperr.ErrValidation, ev.Type)
	}
	balance := e.balance
	listeners := e.listenersLocked()
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"bet": out.ID, "type": ev.Type, "credit": credit}).Debug("betting: mirrored remote event")
	if archived {
		e.saveHistory(ctx)
	}
	if balanceDirty {
		e.saveBalance(ctx)
		emitBalance(listeners, balance)
	}
	emit(listeners, Event{Type: ev.Type, Bet: out, Remote: true})
	return nil
}

func sameStake(a, b *models.BetParticipant) bool {
	return a != nil && b != nil && a.OptionID == b.OptionID && a.Amount == b.Amount
}

// dropParticipant removes userID's entry from bet.
func dropParticipant(bet *models.Bet, userID uuid.UUID) {
	kept := bet.Participants[:0]
	for _, p := range bet.Participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	bet.Participants = kept
}

// Assumes lock is held by caller.
func (e *Engine) settledLocked(betID uuid.UUID) bool {
	for _, b := range e.history {
		if b.ID == betID {
			return true
		}
	}
	return false
}

// mergeParticipants adds every participant of from that bet does not already have.
// Existing entries win.
func mergeParticipants(bet *models.Bet, from []models.BetParticipant) {
	for _, p := range from {
		if bet.Participation(p.UserID) == nil {
			bet.Participants = append(bet.Participants, p)
		}
	}
}

// HandleBoxOpened resolves every open bet the local user created in the result's room
// whose options match the result. Bets created by others are resolved by their creators.
func (e *Engine) HandleBoxOpened(ctx context.Context, result models.BoxOpenedResult) []*models.Bet {
	me := e.userID()

	type pending struct {
		id     uuid.UUID
		option string
	}
	var todo []pending
	e.mu.Lock()
	for _, b := range e.active {
		if b.RoomID != result.RoomID || b.CreatorID != me || b.Status != models.BetOpen {
			continue
		}
		if opt, ok := winningOption(b, result); ok {
			todo = append(todo, pending{id: b.ID, option: opt})
		}
	}
	e.mu.Unlock()

	var resolved []*models.Bet
	for _, p := range todo {
		bet, err := e.ResolveBet(ctx, p.id, p.option)
		if err != nil {
			e.log.WithError(err).WithField("bet", p.id).Warn("betting: auto-resolve failed")
			continue
		}
		resolved = append(resolved, bet)
	}
	return resolved
}
