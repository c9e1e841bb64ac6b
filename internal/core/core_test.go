package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceTypeValidate(t *testing.T) {
	for _, st := range SourceTypes {
		assert.NoError(t, st.Validate(), "source type %s", st)
	}

	err := SourceType("spreadsheet").Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "doc-0001", DocumentID(0))
	assert.Equal(t, "doc-0012", DocumentID(11))
}

func TestCheckMembership(t *testing.T) {
	result := &PipelineResult{
		DocumentCount:     6,
		FailedDocumentIDs: []string{"doc-0006"},
		Topics: []Topic{
			{ID: "topic-01", MemberIDs: []string{"doc-0001", "doc-0002"}},
			{ID: "topic-02", MemberIDs: []string{"doc-0003", "doc-0004"}},
		},
		UnclusteredIDs: []string{"doc-0005"},
	}
	require.NoError(t, result.CheckMembership())
	assert.Equal(t, 4, result.ClusteredCount())

	result.UnclusteredIDs = nil
	assert.ErrorIs(t, result.CheckMembership(), ErrDataIntegrity)

	result.UnclusteredIDs = []string{"doc-0001"}
	assert.ErrorIs(t, result.CheckMembership(), ErrDataIntegrity)
}

func TestServiceErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		err       error
		transient bool
	}{
		{"throttled", 429, errors.New("quota"), true},
		{"server error", 503, errors.New("unavailable"), true},
		{"timeout status", 408, errors.New("timeout"), true},
		{"bad request", 400, errors.New("bad"), false},
		{"unauthorized", 401, errors.New("key"), false},
		{"deadline", 0, context.DeadlineExceeded, true},
		{"cancelled", 0, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := NewServiceError("embed", tt.code, tt.err)
			assert.Equal(t, tt.transient, se.Transient)
			assert.Equal(t, tt.transient, IsTransient(fmt.Errorf("wrapped: %w", se)))
			assert.ErrorIs(t, se, ErrService)
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(fmt.Errorf("summary: %w", ErrInvalidOutput)))
	assert.False(t, IsTransient(ErrParse))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "no_documents", Kind(&StageError{Stage: "parse", Err: ErrNoDocuments}))
	assert.Equal(t, "cancelled", Kind(fmt.Errorf("%w after embed", ErrCancelled)))
	assert.Equal(t, "embedding", Kind(fmt.Errorf("%w: %w", ErrEmbedding, NewServiceError("embed", 500, errors.New("x")))))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
