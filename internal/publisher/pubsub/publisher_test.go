package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	p := New(nil, "")
	require.Equal(t, "routine.index.rebuilt", p.event)
	_, err := p.Publish(context.Background(), "routines", map[string]string{"run_id": "r1"})
	require.Error(t, err)
	p.Stop()
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := carrier{}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
