package subscription

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	classifier := NewClassifier("Subscription already exists for requestId: {0}")

	tests := []struct {
		name          string
		message       string
		wantOutcome   Outcome
		wantCanonical string
	}{
		{
			name:          "duplicate with canonical id",
			message:       "driver error: Subscription already exists for requestId: abc-123",
			wantOutcome:   OutcomeDuplicate,
			wantCanonical: "abc-123",
		},
		{
			name:        "unrelated error",
			message:     "driver error: ledger unavailable",
			wantOutcome: OutcomeError,
		},
		{
			name:        "pattern without id",
			message:     "Subscription already exists for requestId: ",
			wantOutcome: OutcomeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifier.ClassifyError(tt.message)
			assert.Equal(t, tt.wantOutcome, got.Outcome)
			assert.Equal(t, tt.wantCanonical, got.CanonicalID)
		})
	}
}

func TestLoadClassifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driver-error-constants.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"SUB_EXISTS": "Event subscription already exists with request id: {0}"}`), 0600))

	classifier, err := LoadClassifier(path)
	require.NoError(t, err)

	got := classifier.ClassifyError("Event subscription already exists with request id: r1")
	assert.Equal(t, OutcomeDuplicate, got.Outcome)
	assert.Equal(t, "r1", got.CanonicalID)

	// Empty path: duplicates are never recognized.
	classifier, err = LoadClassifier("")
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, classifier.ClassifyError("anything").Outcome)
}
