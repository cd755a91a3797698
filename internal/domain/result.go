package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SubmissionStatus tags a SubmissionResult.
type SubmissionStatus int

const (
	Submitted SubmissionStatus = iota + 1
	Skipped
	Failed
)

func (s SubmissionStatus) String() string {
	switch s {
	case Submitted:
		return "Submitted"
	case Skipped:
		return "Skipped"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("SubmissionStatus(%d)", s)
	}
}

// SubmissionPath is the channel that accepted a submitted transaction.
type SubmissionPath string

const (
	PathNone   SubmissionPath = ""
	PathRelay  SubmissionPath = "relay"
	PathPublic SubmissionPath = "public"
)

// SubmissionResult is the terminal outcome of one TradeIntent.
type SubmissionResult struct {
	IntentID   uuid.UUID
	Network    string
	Status     SubmissionStatus
	Path       SubmissionPath
	Hash       common.Hash // set when Submitted
	Nonce      *uint64     // nil when no nonce was reserved
	OriginHash common.Hash
	Value      *big.Int
	Profit     *big.Int // profit estimate the decision was based on
	Reason     string
	Err        error
	At         time.Time
}

func SubmittedResult(path SubmissionPath, hash common.Hash) SubmissionResult {
	return SubmissionResult{Status: Submitted, Path: path, Hash: hash, At: time.Now()}
}

func SkippedResult(reason string) SubmissionResult {
	return SubmissionResult{Status: Skipped, Reason: reason, At: time.Now()}
}

func FailedResult(err error) SubmissionResult {
	return SubmissionResult{Status: Failed, Err: err, Reason: err.Error(), At: time.Now()}
}
