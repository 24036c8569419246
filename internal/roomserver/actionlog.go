// internal/roomserver/actionlog.go
package roomserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ActionRecord is one audited room action.
type ActionRecord struct {
	RoomID        uuid.UUID              `json:"roomId"`
	ActionIndex   int                    `json:"actionIndex"`
	ActorUserID   uuid.UUID              `json:"actorUserId"`
	ActionType    string                 `json:"actionType"`
	ActionPayload map[string]interface{} `json:"actionPayload"`
	Timestamp     int64                  `json:"timestamp"`
}

// ActionLogger receives room actions for auditing or replay.
type ActionLogger interface {
	PublishAction(ctx context.Context, rec ActionRecord) error
}

// RoomActionStream is the Redis stream RedisActionLog appends to.
const RoomActionStream = "mysterybox:room_actions"

// RedisActionLog appends room actions to a Redis stream.
type RedisActionLog struct {
	Rdb *redis.Client
}

func (l RedisActionLog) PublishAction(ctx context.Context, rec ActionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	return l.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: RoomActionStream,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"room": rec.RoomID.String(), "record": payload},
	}).Err()
}

// logAction records a room action and publishes it asynchronously.
// Assumes lock is held by caller.
func (s *Server) logAction(r *room, actorID uuid.UUID, actionType string, payload map[string]interface{}) {
	r.actionIndex++
	if payload == nil {
		payload = make(map[string]interface{})
	}
	rec := ActionRecord{
		RoomID:        r.state.ID,
		ActionIndex:   r.actionIndex,
		ActorUserID:   actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}
	if s.actions == nil {
		return
	}

	go func(rec ActionRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.actions.PublishAction(ctx, rec); err != nil {
			s.log.WithError(err).WithField("room", rec.RoomID).Errorf("roomserver: failed publishing action %d (%s)", rec.ActionIndex, rec.ActionType)
		}
	}(rec)
}
