package port

import (
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
)

// Telemetry receives counters from the call core.
type Telemetry interface {
	CallCreated()
	CallJoined()
	CandidateSent(coll domain.CandidateCollection)
	CandidateApplied(coll domain.CandidateCollection, err error)
	PeerState(state domain.PeerConnectionState)
	LanguageResolved(wait time.Duration)
	SessionStarted(err error)
	UplinkBlock(sent bool)
	DownlinkSamples(n int)
	DecodeError(kind string)
	EventReceived(kind string)
}

type NopTelemetry struct{}

func (NopTelemetry) CallCreated() {}
func (NopTelemetry) CallJoined() {}
func (NopTelemetry) CandidateSent(domain.CandidateCollection) {}
func (NopTelemetry) CandidateApplied(domain.CandidateCollection, error) {}
func (NopTelemetry) PeerState(domain.PeerConnectionState) {}
func (NopTelemetry) LanguageResolved(time.Duration) {}
func (NopTelemetry) SessionStarted(error) {}
func (NopTelemetry) UplinkBlock(bool) {}
func (NopTelemetry) DownlinkSamples(int) {}
func (NopTelemetry) DecodeError(string) {}
func (NopTelemetry) EventReceived(string) {}
