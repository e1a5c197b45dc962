package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jghoshh/tandem/backend/models"
	"github.com/jghoshh/tandem/backend/notifications"
	cache "github.com/jghoshh/tandem/backend/storage/cache"
	"github.com/streadway/amqp"
)

// notificationDedupTTL is how long a delivered message ID is remembered.
// Redeliveries older than this would be stored twice; in practice broker
// redelivery happens within seconds.
const notificationDedupTTL = 72 * time.Hour

// NotificationProducerFactory is a struct for creating new NotificationProducer instances.
type NotificationProducerFactory struct{}

// NotificationConsumerFactory is a struct for creating new NotificationConsumer instances.
// It contains a Cache which the consumers use to deduplicate deliveries.
type NotificationConsumerFactory struct {
	Cache cache.CacheInterface
}

// NotificationProducer manages the connection, channel and queue of the
// AMQP message producer for in-app notifications.
type NotificationProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
}

// NotificationConsumer manages the connection, channel, queue and dedup
// cache of the AMQP message consumer for in-app notifications.
type NotificationConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   cache.CacheInterface
}

// NotificationMessage is the wire form of one in-app notification. ID is a
// fresh UUID per message and doubles as the dedup key, so a redelivered
// message is stored at most once.
type NotificationMessage struct {
	ID      string                  `json:"id"`
	UserID  string                  `json:"userId"`
	Type    models.NotificationType `json:"type"`
	Message string                  `json:"message"`
	HabitID string                  `json:"habitId,omitempty"`
}

// CreateProducer instantiates a new NotificationProducer with the given
// connection, channel and queue. The error is always nil in the current
// implementation.
func (f *NotificationProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &NotificationProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a new NotificationConsumer with the given
// connection, channel, queue and the factory's cache. The error is always
// nil in the current implementation.
func (f *NotificationConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &NotificationConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
	}, nil
}

// Publish publishes the given message body to the notification queue.
func (np *NotificationProducer) Publish(body []byte) error {
	err := np.channel.Publish(
		"",            // exchange
		np.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return errors.New("failed to publish a message: " + err.Error())
	}

	return nil
}

// Consume sets up a consumer on the notification queue and launches a
// goroutine that reads from it until the context is cancelled. Each message
// is unmarshalled, checked against the dedup cache, and then either stored
// as an in-app notification or discarded as already delivered. Transient
// failures are nacked back onto the queue.
func (nc *NotificationConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := nc.channel.Consume(
		nc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					return
				}

				message := &NotificationMessage{}
				if err := json.Unmarshal(d.Body, message); err != nil {
					log.Printf("failed to unmarshal notification message: %v", err)
					d.Nack(false, true)
					continue
				}

				delivered, err := nc.cache.Get(ctx, "notification_"+message.ID)
				if err != nil {
					// Ignore cache misses, handle other errors
					if err.Error() != "key does not exist" {
						log.Printf("error checking cache: %v", err)
						d.Nack(false, true)
						continue
					}
				}

				if delivered != nil {
					d.Ack(false)
					continue
				}

				if err := notifications.Deliver(ctx, message.UserID, message.Type, message.Message, message.HabitID); err != nil {
					log.Printf("failed to store notification: %v", err)
					d.Nack(false, true)
				} else {
					d.Ack(false)
					if err := nc.cache.Set(ctx, "notification_"+message.ID, true); err != nil {
						log.Printf("failed to set key in cache: %v", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// BuildNotificationQueue initializes a Queue for in-app notification
// messages with the requested number of producers and consumers, all
// sharing the given dedup cache.
func BuildNotificationQueue(rabbitMQURL string, numProducers, numConsumers int, dedupCache cache.CacheInterface) *Queue {
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &NotificationProducerFactory{}
	}

	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &NotificationConsumerFactory{Cache: dedupCache}
	}

	return InitQueue(rabbitMQURL, "notificationQueue", prodFactories, consFactories)
}

// InitNotificationCache initializes the cache used to deduplicate
// notification deliveries. It terminates the process if the cache server
// cannot be reached.
func InitNotificationCache(url string) cache.CacheInterface {
	c, err := cache.NewCache(url, notificationDedupTTL)
	if err != nil {
		log.Fatalf("Error connecting to cache: %v", err)
	}
	return c
}

// PublishNotification serializes the message, stamps it with a fresh UUID
// if the caller left the ID empty, and publishes it through the queue's
// producers round-robin.
func PublishNotification(msg *NotificationMessage, notificationQueue *Queue) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal notification message: " + err.Error())
	}

	if err := notificationQueue.Publish(body); err != nil {
		return errors.New("failed to publish notification message: " + err.Error())
	}

	return nil
}
