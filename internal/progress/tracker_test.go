package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/domain"
)

func TestTracker_Lifecycle(t *testing.T) {
	var updates []Status
	tr := NewTracker(WithListener(func(_ string, s Status) { updates = append(updates, s) }))

	tr.Start("t1")
	st, ok := tr.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StateStarted, st.State)
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, "Uploading file", st.Stage)

	h := tr.Handle("t1")
	h.Advance("File uploaded successfully")
	h.Advance("")
	st, _ = tr.Get("t1")
	assert.Equal(t, StateProcessing, st.State)
	assert.Equal(t, "Chunking text", st.Stage)
	assert.Equal(t, "Chunking text", st.Message)
	assert.Equal(t, 33, st.Progress)

	tr.Complete("t1", domain.ProcessingResult{DocumentID: "d", Status: "success"})
	st, _ = tr.Get("t1")
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "Complete", st.Stage)
	require.NotNil(t, st.Result)
	assert.Equal(t, "d", st.Result.DocumentID)

	assert.Len(t, updates, 4)

	tr.Forget("t1")
	_, ok = tr.Get("t1")
	assert.False(t, ok)
}

func TestTracker_Fail(t *testing.T) {
	tr := NewTracker()
	tr.Start("t")
	tr.Advance("t", "")
	tr.Fail("t", errors.New("bad pdf"))

	st, ok := tr.Get("t")
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "Error processing PDF: bad pdf", st.Message)
	assert.Equal(t, "Extracting text", st.Stage)
	assert.Equal(t, 16, st.Progress)
}

func TestTracker_AdvanceSaturates(t *testing.T) {
	tr := NewTracker()
	tr.Start("t")
	for i := 0; i < 10; i++ {
		tr.Advance("t", "")
	}
	st, _ := tr.Get("t")
	assert.Equal(t, "Complete", st.Stage)
	assert.Equal(t, 83, st.Progress)
}

func TestTracker_UnknownTaskIgnored(t *testing.T) {
	tr := NewTracker()
	tr.Advance("missing", "x")
	tr.Fail("missing", errors.New("x"))
	_, ok := tr.Get("missing")
	assert.False(t, ok)
}
