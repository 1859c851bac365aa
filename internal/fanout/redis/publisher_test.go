package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelNaming(t *testing.T) {
	t.Parallel()

	require.Equal(t, "job:3f2a:events", Channel("3f2a", "events"))
	require.Equal(t, "job:3f2a:metrics", Channel("3f2a", "metrics"))
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	p := New(nil)
	err := p.Publish(context.Background(), "job-1", "events", map[string]string{})
	require.Error(t, err)
}
