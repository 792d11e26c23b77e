package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MsgBridge/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// comparedFields are the message fields checked for divergence once both
// backends agree on the message count.
var comparedFields = []string{"subject", "text", "sender", "timestamp"}

// ConsistencyValidator compares the message set for a deposition as seen by
// each backend. It detects divergence; it never repairs it.
type ConsistencyValidator struct {
	cif    MessageBackend
	db     MessageBackend
	logger *log.Helper
}

// NewConsistencyValidator creates a validator over the two backends.
func NewConsistencyValidator(cif, db MessageBackend, logger log.Logger) *ConsistencyValidator {
	return &ConsistencyValidator{
		cif:    cif,
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// ValidateDeposition compares both backends' views of one deposition.
// A report is always returned, never an error: fetch failures degrade to
// empty lists and an internal malfunction is reported as a difference line
// on an inconsistent report.
func (v *ConsistencyValidator) ValidateDeposition(ctx context.Context, depositionID string) (report *model.ConsistencyReport) {
	report = &model.ConsistencyReport{
		DepositionID: depositionID,
		CheckedAt:    time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			v.logger.Errorw("msg", "consistency validation failed",
				"deposition_id", depositionID, "panic", r)
			report.Consistent = false
			report.Differences = []string{fmt.Sprintf("validation error: %v", r)}
		}
	}()

	cifMessages := v.fetch(ctx, v.cif, depositionID)
	dbMessages := v.fetch(ctx, v.db, depositionID)

	report.CifCount = len(cifMessages)
	report.DbCount = len(dbMessages)
	report.Consistent = true

	if report.CifCount != report.DbCount {
		report.Consistent = false
		report.Differences = append(report.Differences,
			fmt.Sprintf("message count mismatch: cif=%d db=%d", report.CifCount, report.DbCount))
		// No point diffing fields when whole records are extra or missing.
		return report
	}

	if report.CifCount > 0 {
		diffs := compareMessageContent(cifMessages, dbMessages)
		if len(diffs) > 0 {
			report.Consistent = false
			report.Differences = append(report.Differences, diffs...)
		}
	}

	return report
}

// fetch swallows backend errors: a partial comparison beats an exception
// here, so a failed fetch is logged and treated as an empty list.
func (v *ConsistencyValidator) fetch(ctx context.Context, backend MessageBackend, depositionID string) []model.Message {
	if backend == nil {
		return nil
	}
	msgs, err := backend.ReadMessages(ctx, depositionID)
	if err != nil {
		v.logger.Warnw("msg", "failed to fetch messages for consistency check",
			"backend", backend.Name(),
			"deposition_id", depositionID,
			"error", err)
		return nil
	}
	return msgs
}

// compareMessageContent diffs the fixed field set for every message id both
// sides have in common. Values compare by exact string-trim equality.
func compareMessageContent(cifMessages, dbMessages []model.Message) []string {
	dbByID := make(map[string]model.Message, len(dbMessages))
	for _, m := range dbMessages {
		dbByID[m.MessageID] = m
	}

	var diffs []string
	for _, cifMsg := range cifMessages {
		dbMsg, ok := dbByID[cifMsg.MessageID]
		if !ok {
			continue
		}
		for _, field := range comparedFields {
			cifVal := fieldValue(&cifMsg, field)
			dbVal := fieldValue(&dbMsg, field)
			if strings.TrimSpace(cifVal) != strings.TrimSpace(dbVal) {
				diffs = append(diffs, fmt.Sprintf(
					"message %s field '%s' differs: cif='%s' db='%s'",
					cifMsg.MessageID, field, cifVal, dbVal))
			}
		}
	}
	return diffs
}

func fieldValue(m *model.Message, field string) string {
	switch field {
	case "subject":
		return m.Subject
	case "text":
		return m.Text
	case "sender":
		return m.Sender
	case "timestamp":
		return m.Timestamp.UTC().Format(time.RFC3339)
	}
	return ""
}
