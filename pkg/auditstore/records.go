// Package auditstore persists the send and receive records that track the
// lifecycle of every message attempt. Records are the durable source of truth
// for delivery outcomes; broker state is advisory.
package auditstore

import (
	"errors"
	"fmt"
	"time"
)

// ErrRecordNotFound is returned by stores when no record exists for a key.
var ErrRecordNotFound = errors.New("audit record not found")

// Status is the terminal outcome recorded for one logical message attempt.
// The zero value means the outcome is not yet decided.
type Status int8

const (
	StatusUnset   Status = 0
	StatusFailed  Status = 1
	StatusSuccess Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusSuccess:
		return "success"
	default:
		return "unset"
	}
}

// FailType refines a failed send record. It is informative only when the
// record status is StatusFailed.
type FailType int8

const (
	FailTypeNone                  FailType = 0
	FailTypeConnectionFailure     FailType = 1
	FailTypeConfirmRetryExhausted FailType = 2
	FailTypeUnroutable            FailType = 3
)

func (f FailType) String() string {
	switch f {
	case FailTypeConnectionFailure:
		return "connection_failure"
	case FailTypeConfirmRetryExhausted:
		return "confirm_retry_exhausted"
	case FailTypeUnroutable:
		return "unroutable"
	default:
		return "none"
	}
}

// RecordKey builds the compound store key that identifies one logical send or
// receive attempt across retries.
func RecordKey(msgID, appCode string) string {
	return fmt.Sprintf("%s:%s", msgID, appCode)
}

// SendRecord tracks one logical publish attempt, owned by the sender. It is
// created optimistically as successful on first publish and corrected by the
// broker's confirm/return callbacks. Records are never deleted.
type SendRecord struct {
	ID           string    `firestore:"id" json:"id"`
	Exchange     string    `firestore:"exchange" json:"exchange"`
	RoutingKey   string    `firestore:"routingKey" json:"routingKey"`
	MsgID        string    `firestore:"msgId" json:"msgId"`
	AppCode      string    `firestore:"appCode" json:"appCode"`
	BusinessType string    `firestore:"businessType" json:"businessType"`
	Status       Status    `firestore:"status" json:"status"`
	FailType     FailType  `firestore:"failType" json:"failType"`
	RetryCount   int       `firestore:"retryCount" json:"retryCount"`
	Payload      string    `firestore:"payload" json:"payload"`
	Remark       string    `firestore:"remark" json:"remark"`
	CreatedAt    time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// Key returns the record's compound store key.
func (r *SendRecord) Key() string { return RecordKey(r.MsgID, r.AppCode) }

// Finalized reports whether an outcome has been recorded.
func (r *SendRecord) Finalized() bool { return r.Status != StatusUnset }

// ReceiveRecord tracks the consumption of one logical message, owned by the
// receiver. It is written once per delivery attempt, after the outcome is
// known.
type ReceiveRecord struct {
	ID           string    `firestore:"id" json:"id"`
	Queue        string    `firestore:"queue" json:"queue"`
	MsgID        string    `firestore:"msgId" json:"msgId"`
	AppCode      string    `firestore:"appCode" json:"appCode"`
	BusinessType string    `firestore:"businessType" json:"businessType"`
	Status       Status    `firestore:"status" json:"status"`
	RetryCount   int       `firestore:"retryCount" json:"retryCount"`
	Payload      string    `firestore:"payload" json:"payload"`
	Remark       string    `firestore:"remark" json:"remark"`
	CreatedAt    time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// Key returns the record's compound store key.
func (r *ReceiveRecord) Key() string { return RecordKey(r.MsgID, r.AppCode) }

// Finalized reports whether an outcome has been recorded.
func (r *ReceiveRecord) Finalized() bool { return r.Status != StatusUnset }
