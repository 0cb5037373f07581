package reconcile_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hangarshare/backend-hangar/internal/queue"
	"github.com/hangarshare/backend-hangar/internal/reconcile"
)

func TestEnqueueSettlementDeduplicatesByChargeRef(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	enq := reconcile.Enqueuer{
		Q:           queue.Enqueuer{R: client, Prefix: "recon", DedupTTL: time.Minute},
		MaxAttempts: 5,
	}

	intentID := uuid.New()
	require.NoError(t, enq.EnqueueSettlement(context.Background(), intentID, "ch_abc"))
	require.NoError(t, enq.EnqueueSettlement(context.Background(), intentID, "ch_abc"))

	depth, err := client.ZCard(context.Background(), "recon:queue:"+reconcile.TaskKind).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestEnqueueSettlementPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	enq := reconcile.Enqueuer{Q: queue.Enqueuer{R: client, Prefix: "recon"}}
	intentID := uuid.New()
	require.NoError(t, enq.EnqueueSettlement(context.Background(), intentID, "ch_xyz"))

	members, err := client.ZRange(context.Background(), "recon:queue:"+reconcile.TaskKind, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	var msg struct {
		Payload []byte `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(members[0]), &msg))

	var payload struct {
		IntentID  string `json:"intent_id"`
		ChargeRef string `json:"charge_ref"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, intentID.String(), payload.IntentID)
	require.Equal(t, "ch_xyz", payload.ChargeRef)
}
