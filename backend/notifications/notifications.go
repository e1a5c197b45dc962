// Package notifications persists in-app notifications. The queue consumers
// hand decoded messages to Deliver; screens fetch the stored documents on
// demand (there is no push channel).
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/jghoshh/tandem/backend/models"
	storage "github.com/jghoshh/tandem/backend/storage/persistent"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// store is a global variable that holds an interface to the storage system.
var store storage.StorageInterface

// InitNotificationService wires the notification service to its storage
// backend. It must be called before Deliver.
func InitNotificationService(s storage.StorageInterface) {
	store = s
}

// Deliver stores one in-app notification for the given user. The user id
// and optional habit id arrive as hex strings straight off the wire.
func Deliver(ctx context.Context, userID string, kind models.NotificationType, message, habitID string) error {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("invalid notification user id %q: %w", userID, err)
	}

	notification := &models.Notification{
		UserID:    uid,
		Type:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if habitID != "" {
		hid, err := primitive.ObjectIDFromHex(habitID)
		if err != nil {
			return fmt.Errorf("invalid notification habit id %q: %w", habitID, err)
		}
		notification.HabitID = &hid
	}

	_, err = store.AddNotification(ctx, notification)
	return err
}
