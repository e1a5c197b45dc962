package queue

import (
	"encoding/json"
	"testing"

	"github.com/jghoshh/tandem/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProducer captures published bodies instead of talking to a broker.
type recordingProducer struct {
	bodies [][]byte
	err    error
}

func (p *recordingProducer) Publish(body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func TestPublishRotatesThroughProducers(t *testing.T) {
	first := &recordingProducer{}
	second := &recordingProducer{}
	q := &Queue{Producers: []Producer{first, second}}

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Publish([]byte("msg")))
	}

	assert.Len(t, first.bodies, 2)
	assert.Len(t, second.bodies, 2)
}

func TestPublishWithoutProducers(t *testing.T) {
	q := &Queue{}
	err := q.Publish([]byte("msg"))
	assert.EqualError(t, err, "no producers available")
}

func TestPublishNotificationStampsMessageID(t *testing.T) {
	producer := &recordingProducer{}
	q := &Queue{Producers: []Producer{producer}}

	msg := &NotificationMessage{
		UserID:  "64b0c1b2a3d4e5f601234567",
		Type:    models.NotificationHabitCompleted,
		Message: "Alice completed \"Evening walk\".",
	}
	require.NoError(t, PublishNotification(msg, q))
	assert.NotEmpty(t, msg.ID)

	require.Len(t, producer.bodies, 1)
	var decoded NotificationMessage
	require.NoError(t, json.Unmarshal(producer.bodies[0], &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, models.NotificationHabitCompleted, decoded.Type)
}

func TestPublishNotificationKeepsCallerAssignedID(t *testing.T) {
	producer := &recordingProducer{}
	q := &Queue{Producers: []Producer{producer}}

	msg := &NotificationMessage{
		ID:      "fixed-id",
		UserID:  "64b0c1b2a3d4e5f601234567",
		Type:    models.NotificationEncouragement,
		Message: "Your turn!",
	}
	require.NoError(t, PublishNotification(msg, q))
	assert.Equal(t, "fixed-id", msg.ID)
}
