package jobevents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"ragserv/internal/config"
)

func TestNewReturnsNilWhenNoBrokersConfigured(t *testing.T) {
	pub := New(config.KafkaConfig{})
	assert.Nil(t, pub)
}

func TestNilPublisherPublishAndCloseAreNoops(t *testing.T) {
	var pub *Publisher
	assert.NotPanics(t, func() {
		pub.Publish(context.Background(), JobEvent{JobID: "job-1"})
		pub.Close()
	})
}
