package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"MsgBridge/internal/conf"
	"MsgBridge/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCifBackend(t *testing.T) *CifBackend {
	t.Helper()
	c := &conf.Data{Cif: &conf.Data_Cif{ArchiveDir: t.TempDir()}}
	b := NewCifBackend(c, log.NewStdLogger(os.Stdout))
	require.True(t, b.Ready())
	return b
}

func cifTestMessage(id, dep, subject string, ts time.Time) *model.Message {
	return &model.Message{
		MessageID:    id,
		DepositionID: dep,
		Timestamp:    ts,
		Sender:       "annotator@rcsb.org",
		Subject:      subject,
		Text:         "body of " + subject,
		MessageType:  "text",
		SendStatus:   "Y",
	}
}

func TestCifBackend_WriteReadRoundTrip(t *testing.T) {
	b := newTestCifBackend(t)
	ctx := context.Background()
	ts := time.Date(2026, 5, 2, 15, 4, 5, 0, time.UTC)

	msg := cifTestMessage("m1", "D_000001", "Validation report ready", ts)
	msg.Text = "line one\nline two with \"quotes\" and a\ttab"
	msg.ContextType = "report"
	msg.ContextValue = "major issues"
	require.NoError(t, b.WriteMessage(ctx, msg))

	got, err := b.ReadMessages(ctx, "D_000001")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "D_000001", got[0].DepositionID)
	assert.Equal(t, msg.Text, got[0].Text)
	assert.Equal(t, "report", got[0].ContextType)
	assert.Equal(t, "major issues", got[0].ContextValue)
	assert.True(t, ts.Equal(got[0].Timestamp))
}

func TestCifBackend_OrderedByTimestamp(t *testing.T) {
	b := newTestCifBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

	// Written out of order on purpose.
	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m3", "D_000001", "third", base.Add(2*time.Hour))))
	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m1", "D_000001", "first", base)))
	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m2", "D_000001", "second", base.Add(time.Hour))))

	got, err := b.ReadMessages(ctx, "D_000001")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].MessageID, got[1].MessageID, got[2].MessageID})
}

func TestCifBackend_UnknownDepositionIsEmpty(t *testing.T) {
	b := newTestCifBackend(t)

	got, err := b.ReadMessages(context.Background(), "D_999999")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCifBackend_DepositionsAreIsolated(t *testing.T) {
	b := newTestCifBackend(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m1", "D_000001", "a", ts)))
	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m2", "D_000002", "b", ts)))

	got, err := b.ReadMessages(ctx, "D_000001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].MessageID)
}

func TestCifBackend_ReadMessageByID(t *testing.T) {
	b := newTestCifBackend(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m1", "D_000001", "a", ts)))
	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m2", "D_000002", "b", ts)))

	got, err := b.ReadMessage(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "D_000002", got.DepositionID)

	missing, err := b.ReadMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCifBackend_RejectsPathEscapingIDs(t *testing.T) {
	b := newTestCifBackend(t)
	ctx := context.Background()

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		err := b.WriteMessage(ctx, cifTestMessage("m1", id, "s", time.Now()))
		assert.Error(t, err, "id %q", id)
	}
}

func TestCifBackend_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	c := &conf.Data{Cif: &conf.Data_Cif{ArchiveDir: dir}}
	b := NewCifBackend(c, log.NewStdLogger(os.Stdout))
	require.True(t, b.Ready())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m", "D_000001", "s", time.Now())))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "D_000001"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, messagesFileName, entries[0].Name())
}

func TestCifBackend_TolerantOfCommentsAndBlankLines(t *testing.T) {
	b := newTestCifBackend(t)
	ctx := context.Background()
	require.NoError(t, b.WriteMessage(ctx, cifTestMessage("m1", "D_000001", "s", time.Now().UTC())))

	// Hand-edited archives carry comments and stray blank lines.
	path := filepath.Join(b.root, "D_000001", messagesFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := "# archive touched by annotation tooling\n\n" + string(raw) + "\n# trailing note\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	got, err := b.ReadMessages(ctx, "D_000001")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCifBackend_NotReadyWithoutArchiveDir(t *testing.T) {
	b := NewCifBackend(&conf.Data{}, log.NewStdLogger(os.Stdout))
	assert.False(t, b.Ready())

	err := b.WriteMessage(context.Background(), cifTestMessage("m1", "D_000001", "s", time.Now()))
	assert.Error(t, err)
}
