package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTextfileFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.prom")
	tf, err := NewTextfile("bridge", path)
	require.NoError(t, err)
	require.Equal(t, path, tf.Path())

	RecordCount(context.Background(), DaysAggregated, 3)

	require.Eventually(t, func() bool {
		if err := tf.Flush(); err != nil {
			return false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		return strings.Contains(string(data), "bridge_days_aggregated_total")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestTextfileNoPath(t *testing.T) {
	tf, err := NewTextfile("bridge", "")
	require.NoError(t, err)
	require.NoError(t, tf.Flush())
}
