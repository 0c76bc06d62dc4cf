package redis

import (
	// Go Internal Packages
	"context"
	"encoding/json"

	// Local Packages
	models "tx-tracker/models"

	// External Packages
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NotificationQueue appends user notifications to a Redis list the UI backend drains.
type NotificationQueue struct {
	client   *redis.Client
	logger   *zap.Logger
	listName string
}

func NewNotificationQueue(client *redis.Client, logger *zap.Logger, listName string) *NotificationQueue {
	if listName == "" {
		listName = "tx-notifications"
	}
	return &NotificationQueue{client: client, logger: logger, listName: listName}
}

// Publish pushes n as JSON onto the tail of the list
func (q *NotificationQueue) Publish(ctx context.Context, n models.Notification) error {
	jsonData, err := json.Marshal(n)
	if err != nil {
		q.logger.Error("failed to marshal notification", zap.String("tx_id", n.TxID), zap.Error(err))
		return err
	}

	if err := q.client.RPush(ctx, q.listName, jsonData).Err(); err != nil {
		q.logger.Error("failed to push notification", zap.String("list", q.listName), zap.String("tx_id", n.TxID), zap.Error(err))
		return err
	}

	q.logger.Info("notification queued", zap.String("tx_id", n.TxID), zap.String("status", string(n.Status)))
	return nil
}
