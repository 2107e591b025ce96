package metrics

import "time"

// Noop discards everything; used when METRICS_ENABLED=false and in tests.
type Noop struct{}

var _ Recorder = (*Noop)(nil)

func NewNoop() Recorder {
	return &Noop{}
}

func (n *Noop) RecordSyncJob(outcome string)                                          {}
func (n *Noop) RecordSyncRun(provider string, outcome string, duration time.Duration) {}
func (n *Noop) RecordDataPoints(provider, dataType string, persisted, duplicates int) {}
func (n *Noop) RecordTokenRefresh(provider string, result string)                     {}
func (n *Noop) RecordWebhook(provider string, result string)                          {}
func (n *Noop) RecordProviderRequest(provider string, status int, d time.Duration)    {}
func (n *Noop) RecordHTTPRequest(method, route string, status int, d time.Duration)   {}
