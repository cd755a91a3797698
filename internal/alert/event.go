// Package alert delivers pipeline events to operators without ever blocking the pipeline.
package alert

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

type Kind string

const (
	KindStarted   Kind = "started"
	KindNetwork   Kind = "network"
	KindScanError Kind = "scan_error"
	KindRejected  Kind = "rejected"
	KindSkipped   Kind = "skipped"
	KindSubmitted Kind = "submitted"
	KindFailed    Kind = "failed"
	KindCycle     Kind = "cycle"
	KindStopped   Kind = "stopped"
)

// Event is one structured alert. Amounts are rendered in ETH units.
type Event struct {
	ID      uuid.UUID     `json:"id"`
	Time    time.Time     `json:"time"`
	Kind    Kind          `json:"kind"`
	Level   zapcore.Level `json:"level"`
	Network string        `json:"network,omitempty"`
	Message string        `json:"message"`
	Origin  string        `json:"origin,omitempty"`
	TxHash  string        `json:"tx_hash,omitempty"`
	Path    string        `json:"path,omitempty"`
	Nonce   *uint64       `json:"nonce,omitempty"`
	Value   string        `json:"value,omitempty"`
	Profit  string        `json:"profit,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// Sink receives events. Emit must return immediately.
type Sink interface {
	Emit(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// FromResult renders a terminal submission result.
func FromResult(r domain.SubmissionResult) Event {
	ev := Event{
		Network: r.Network,
		Origin:  hashString(r.OriginHash),
		Value:   amount(r.Value),
		Profit:  amount(r.Profit),
		Reason:  r.Reason,
		Path:    string(r.Path),
	}
	if r.Nonce != nil {
		n := *r.Nonce
		ev.Nonce = &n
	}
	switch r.Status {
	case domain.Submitted:
		ev.Kind, ev.Level = KindSubmitted, zapcore.InfoLevel
		ev.TxHash = r.Hash.Hex()
		ev.Message = "trade submitted via " + string(r.Path)
	case domain.Skipped:
		ev.Kind, ev.Level = KindSkipped, zapcore.InfoLevel
		ev.Message = "opportunity skipped"
	default:
		ev.Kind, ev.Level = KindFailed, zapcore.ErrorLevel
		ev.Message = "trade failed"
	}
	return ev
}

// Rejected renders an evaluator rejection.
func Rejected(tx domain.PendingTransaction, ev domain.Evaluation) Event {
	return Event{
		Kind:    KindRejected,
		Level:   zapcore.DebugLevel,
		Network: tx.Network,
		Message: "opportunity rejected",
		Origin:  tx.Hash.Hex(),
		Value:   amount(domain.U256ToBig(tx.Value)),
		Profit:  amount(ev.MinProfit),
		Reason:  ev.Reason,
	}
}

func amount(x *big.Int) string {
	if x == nil {
		return ""
	}
	return domain.FmtETH(x)
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

// ScanFailed reports a network whose scan failed this cycle.
func ScanFailed(network string, err error) Event {
	return Event{
		Kind:    KindScanError,
		Level:   zapcore.WarnLevel,
		Network: network,
		Message: "scan failed",
		Reason:  err.Error(),
	}
}

// NetworkState reports the outcome of connecting to a network at startup.
func NetworkState(n domain.Network) Event {
	ev := Event{Kind: KindNetwork, Network: n.ID, Level: zapcore.InfoLevel, Message: "connected"}
	if n.State != domain.Live {
		ev.Level = zapcore.ErrorLevel
		ev.Message = "failed to connect"
		ev.Reason = n.Reason
	}
	return ev
}

// CycleDone reports the end of a cycle and the chosen backoff.
func CycleDone(summary string, sleep time.Duration) Event {
	return Event{
		Kind:    KindCycle,
		Level:   zapcore.InfoLevel,
		Message: fmt.Sprintf("cycle completed, sleeping for %s", sleep.Round(time.Second)),
		Reason:  summary,
	}
}

// Lifecycle reports the process starting or stopping.
func Lifecycle(kind Kind, msg string) Event {
	return Event{Kind: kind, Level: zapcore.InfoLevel, Message: msg}
}
