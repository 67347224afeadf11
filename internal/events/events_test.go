package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectWithoutURLIsDisabled(t *testing.T) {
	publisher, err := Connect("")
	require.NoError(t, err)
	assert.Nil(t, publisher)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var publisher *Publisher
	assert.NoError(t, publisher.Publish(context.Background(), Event{Kind: TokenIssued}))
	assert.NoError(t, publisher.Close())
}
