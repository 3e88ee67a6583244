package marketsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"bitbucket.org/mmdatafocus/sellersync_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

func syncTopicName() string {
	if v := os.Getenv("SETTLEMENT_SYNC_TOPIC"); v != "" {
		return v
	}
	return "settlement-sync-runs"
}

// PublishSyncRun hands a queued run to the worker pool over Pub/Sub. When
// PUBSUB_INLINE is set the run executes in-process instead, which keeps local
// development free of emulator setup.
func PublishSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	if envBoolDefault("PUBSUB_INLINE", false) {
		go func() {
			if err := ProcessSyncRun(context.WithoutCancel(ctx), payload); err != nil {
				config.LogError(config.GetLogger(), "marketsync", "PublishSyncRun", "inline run failed", payload.StoreId.String(), err)
			}
		}()
		return nil
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, syncTopicName())
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish sync run %d: %w", payload.RunId, err)
	}
	return nil
}

// PubSubPushHandler receives push deliveries for the sync topic. It always
// acks (2xx): a failed run is already recorded on its SettlementSyncRun row,
// and endless redelivery of a poisoned message helps nobody.
func PubSubPushHandler(c *gin.Context) {
	logger := config.GetLogger()

	var envelope PubSubPushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		config.LogError(logger, "marketsync", "PubSubPushHandler", "bad envelope", "", err)
		c.Status(http.StatusNoContent)
		return
	}

	var payload SyncPubSubPayload
	if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
		config.LogError(logger, "marketsync", "PubSubPushHandler", "bad payload", envelope.Message.MessageID, err)
		c.Status(http.StatusNoContent)
		return
	}

	if err := ProcessSyncRun(c.Request.Context(), payload); err != nil {
		config.LogError(logger, "marketsync", "PubSubPushHandler", "run processing failed", payload.StoreId.String(), err)
	}
	c.Status(http.StatusNoContent)
}
