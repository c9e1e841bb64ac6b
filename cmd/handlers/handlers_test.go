package handlers

import (
	"bytes"
	"testing"
	"time"

	"bireport/internal/clustering"
	"bireport/internal/core"
	"bireport/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRunFlags(t *testing.T) {
	base := pipeline.DefaultOptions()

	t.Run("no flags keeps defaults", func(t *testing.T) {
		opts, err := applyRunFlags(base, runFlags{})
		require.NoError(t, err)
		assert.Equal(t, base.MaxTopics, opts.MaxTopics)
		assert.Equal(t, base.Strategy, opts.Strategy)
		assert.True(t, opts.Deliver)
	})

	t.Run("flags override", func(t *testing.T) {
		opts, err := applyRunFlags(base, runFlags{
			maxTopics:    6,
			minTopicSize: 2,
			workers:      8,
			strategy:     "louvain",
			noDeliver:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, 6, opts.MaxTopics)
		assert.Equal(t, 2, opts.MinTopicSize)
		assert.Equal(t, 8, opts.Workers)
		assert.Equal(t, clustering.StrategyLouvain, opts.Strategy)
		assert.False(t, opts.Deliver)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := applyRunFlags(base, runFlags{strategy: "hdbscan"})
		assert.Error(t, err)
	})
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "serve", "cache", "reports", "config"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("source"))
	assert.NotNil(t, run.Flags().Lookup("no-deliver"))
}

func TestCleanupAge(t *testing.T) {
	d, err := cleanupAge("48h", "720h")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = cleanupAge("", "720h")
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, d)

	for _, tc := range []struct{ flag, configured string }{
		{"", ""},
		{"soon", ""},
		{"-1h", ""},
	} {
		_, err := cleanupAge(tc.flag, tc.configured)
		assert.Error(t, err, "flag=%q configured=%q", tc.flag, tc.configured)
	}
}

func TestCacheCommandHasCleanup(t *testing.T) {
	cleanup, _, err := NewRootCmd().Find([]string{"cache", "cleanup"})
	require.NoError(t, err)
	assert.Equal(t, "cleanup", cleanup.Name())
	assert.NotNil(t, cleanup.Flags().Lookup("older-than"))
}

func TestPrintResult(t *testing.T) {
	result := &core.PipelineResult{
		Title:         "Quarterly Review",
		DocumentCount: 5,
		Topics: []core.Topic{
			{ID: "topic-1", Label: "Cloud Spending", Keywords: []string{"cloud", "budget"}, MemberIDs: []string{"doc-1", "doc-2", "doc-3"}},
		},
		UnclusteredIDs: []string{"doc-4"},
		Stats:          core.ProcessingStats{ProcessingTime: 1500 * time.Millisecond},
		Delivery: core.DeliveryOutcome{
			Attempted:  true,
			Successful: true,
			LocalPath:  "reports/report_20260309_143000.html",
		},
	}

	var buf bytes.Buffer
	printResult(&buf, result)
	out := buf.String()

	assert.Contains(t, out, "Quarterly Review")
	assert.Contains(t, out, "Cloud Spending")
	assert.Contains(t, out, "cloud, budget")
	assert.Contains(t, out, "1 unclustered")
	assert.Contains(t, out, "Report delivered")
	assert.Contains(t, out, "report_20260309_143000.html")
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, pipeline.StatusSnapshot{
		Phase:      pipeline.PhaseFailed,
		RunID:      "run-1",
		LastError:  "no documents",
		ErrorKind:  "no_documents",
		ErrorStage: "extract",
	})
	out := buf.String()
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "no documents")
}
