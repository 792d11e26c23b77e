package biz

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"MsgBridge/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock over the MessageBackend contract, shared
// by the consistency and router tests.
type MockBackend struct {
	mock.Mock
	name string
}

func (m *MockBackend) Name() string { return m.name }

func (m *MockBackend) WriteMessage(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockBackend) ReadMessages(ctx context.Context, depositionID string) ([]model.Message, error) {
	args := m.Called(ctx, depositionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MockBackend) ReadMessage(ctx context.Context, messageID string) (*model.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func testMessage(id, subject, text string) model.Message {
	return model.Message{
		MessageID:    id,
		DepositionID: "D_000100",
		Timestamp:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Sender:       "annotator@rcsb.org",
		Subject:      subject,
		Text:         text,
		MessageType:  "text",
		SendStatus:   "Y",
	}
}

func newTestValidator(cif, db MessageBackend) *ConsistencyValidator {
	return NewConsistencyValidator(cif, db, log.NewStdLogger(os.Stdout))
}

func TestValidate_ConsistentDeposition(t *testing.T) {
	msgs := []model.Message{
		testMessage("m1", "Validation report", "please review"),
		testMessage("m2", "Re: Validation report", "done"),
	}
	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").Return(msgs, nil)
	db.On("ReadMessages", mock.Anything, "D_000100").Return(msgs, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.CifCount)
	assert.Equal(t, 2, report.DbCount)
	assert.Empty(t, report.Differences)
}

func TestValidate_CountMismatchShortCircuits(t *testing.T) {
	cifMsgs := []model.Message{
		testMessage("m1", "subject A", "text A"),
		testMessage("m2", "subject B", "text B"),
	}
	// One shared id with different content; the count mismatch must be the
	// only reported difference.
	dbMsgs := []model.Message{
		testMessage("m1", "completely different", "and different again"),
	}
	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").Return(cifMsgs, nil)
	db.On("ReadMessages", mock.Anything, "D_000100").Return(dbMsgs, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	assert.False(t, report.Consistent)
	assert.Equal(t, []string{"message count mismatch: cif=2 db=1"}, report.Differences)
}

func TestValidate_FieldDifference(t *testing.T) {
	cifMsgs := []model.Message{testMessage("m1", "original subject", "same text")}
	dbMsgs := []model.Message{testMessage("m1", "edited subject", "same text")}
	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").Return(cifMsgs, nil)
	db.On("ReadMessages", mock.Anything, "D_000100").Return(dbMsgs, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	assert.False(t, report.Consistent)
	assert.Len(t, report.Differences, 1)
	assert.Equal(t,
		"message m1 field 'subject' differs: cif='original subject' db='edited subject'",
		report.Differences[0])
}

func TestValidate_WhitespaceOnlyDifferencesIgnored(t *testing.T) {
	cifMsgs := []model.Message{testMessage("m1", "  subject  ", "text\n")}
	dbMsgs := []model.Message{testMessage("m1", "subject", "text")}
	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").Return(cifMsgs, nil)
	db.On("ReadMessages", mock.Anything, "D_000100").Return(dbMsgs, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	assert.True(t, report.Consistent)
}

func TestValidate_TimestampComparedInUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	cifMsg := testMessage("m1", "s", "t")
	dbMsg := cifMsg
	// Same instant, different zone representation.
	dbMsg.Timestamp = cifMsg.Timestamp.In(est)

	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").Return([]model.Message{cifMsg}, nil)
	db.On("ReadMessages", mock.Anything, "D_000100").Return([]model.Message{dbMsg}, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	assert.True(t, report.Consistent)
}

func TestValidate_FetchErrorsAreSwallowed(t *testing.T) {
	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").
		Return(nil, errors.New("archive directory unreadable"))
	db.On("ReadMessages", mock.Anything, "D_000100").
		Return([]model.Message{testMessage("m1", "s", "t")}, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	// A failed fetch degrades to an empty list, never to a panic or error.
	assert.False(t, report.Consistent)
	assert.Equal(t, 0, report.CifCount)
	assert.Equal(t, 1, report.DbCount)
}

func TestValidate_BothEmptyIsConsistent(t *testing.T) {
	cif := &MockBackend{name: "cif"}
	db := &MockBackend{name: "database"}
	cif.On("ReadMessages", mock.Anything, "D_000100").Return([]model.Message{}, nil)
	db.On("ReadMessages", mock.Anything, "D_000100").Return([]model.Message{}, nil)

	report := newTestValidator(cif, db).ValidateDeposition(context.Background(), "D_000100")

	assert.True(t, report.Consistent)
	assert.Equal(t, 0, report.CifCount)
}

func TestValidate_NilBackendsDegradeToEmpty(t *testing.T) {
	report := newTestValidator(nil, nil).ValidateDeposition(context.Background(), "D_000100")

	// Both sides empty counts as consistent; the router layer is the one
	// that refuses to build a validator without two backends.
	assert.True(t, report.Consistent)
	assert.Equal(t, 0, report.CifCount)
	assert.Equal(t, 0, report.DbCount)
}
