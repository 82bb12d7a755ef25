package delegation

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.govkit.dev/mandate"
)

const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// defines prometheus metrics
var (
	promGrants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandate_delegation_rules_granted",
		Help: "total number of processed delegation rules by outcome",
	}, []string{"outcome"})

	promRevocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mandate_delegation_revocations",
		Help: "total number of processed revocation requests by outcome",
	}, []string{"outcome"})
)

func init() {
	mandate.PromCollectors = append(mandate.PromCollectors, promGrants, promRevocations)
}
