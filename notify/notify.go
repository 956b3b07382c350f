// Package notify publishes chronicle maintenance notices to external systems.
//
// The snapshot and archive services report snapshot batches, retention
// cleanups, archive runs and integrity mismatches through a chronicle.Notifier.
// Publishers live in the kafka, sns and webhook subpackages and can be fanned
// out with Multi:
//
//	notifier := notify.Multi(
//	    kafka.New(kafka.WithBrokers("broker:9092")),
//	    webhook.New("https://ops.example.com/hooks/chronicle"),
//	)
//	archive := chronicle.NewArchiveService(snapshots, cold, nil,
//	    chronicle.WithArchiveNotifier(notifier))
package notify

import (
	"context"
	"errors"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/emberforge/chronicle"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Header names attached to every published notice.
const (
	HeaderKind       = "chronicle-kind"
	HeaderStreamID   = "chronicle-stream-id"
	HeaderOccurredAt = "chronicle-occurred-at"
	HeaderFailures   = "chronicle-failures"
)

// Func adapts an ordinary function to chronicle.Notifier.
type Func func(ctx context.Context, notice chronicle.MaintenanceNotice) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	return f(ctx, notice)
}

type multi []chronicle.Notifier

// Multi returns a notifier that delivers each notice to every notifier.
// All notifiers are attempted; failures are joined.
func Multi(notifiers ...chronicle.Notifier) chronicle.Notifier {
	var m multi
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multi) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Encode returns the JSON form of a notice. A zero OccurredAt is set to now.
func Encode(notice chronicle.MaintenanceNotice) ([]byte, error) {
	if notice.OccurredAt.IsZero() {
		notice.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(notice)
}

// Decode parses a notice produced by Encode.
func Decode(data []byte) (chronicle.MaintenanceNotice, error) {
	var notice chronicle.MaintenanceNotice
	err := json.Unmarshal(data, &notice)
	return notice, err
}

// Headers returns the routing headers of a notice.
func Headers(notice chronicle.MaintenanceNotice) map[string]string {
	headers := map[string]string{
		HeaderKind:     notice.Kind,
		HeaderFailures: strconv.Itoa(notice.Failures),
	}
	if notice.StreamID != "" {
		headers[HeaderStreamID] = notice.StreamID
	}
	if !notice.OccurredAt.IsZero() {
		headers[HeaderOccurredAt] = notice.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return headers
}
