// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for go-passkey
// ceremonies. It exposes ceremony counters, challenge lifecycle counters
// and a clone-warning counter, so possible authenticator compromise is
// distinguishable in telemetry even though the caller-facing error stays
// generic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelCeremony = "ceremony"
	LabelStatus   = "status"

	// Ceremony values
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// CeremoniesTotal tracks completed finish-ceremony calls by ceremony
	// type and outcome.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of finished WebAuthn ceremonies by type and status",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// ChallengesIssuedTotal tracks challenges issued by begin-ceremony calls.
	ChallengesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_issued_total",
			Help:      "Total number of ceremony challenges issued by ceremony type",
		},
		[]string{LabelCeremony},
	)

	// ChallengesSweptTotal tracks expired challenges removed by the
	// background sweeper.
	ChallengesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_swept_total",
			Help:      "Total number of expired challenges removed by the background sweep",
		},
	)

	// CloneWarningsTotal tracks assertions rejected by the signature
	// counter clone-detection check. A nonzero rate indicates replayed
	// assertions or a cloned authenticator and warrants investigation.
	CloneWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "clone_warnings_total",
			Help:      "Total number of assertions rejected by clone detection",
		},
	)
)

// RecordCeremony increments the ceremony counter for the given type and
// outcome.
func RecordCeremony(ceremony, status string) {
	CeremoniesTotal.WithLabelValues(ceremony, status).Inc()
}

// RecordChallengeIssued increments the issued-challenge counter.
func RecordChallengeIssued(ceremony string) {
	ChallengesIssuedTotal.WithLabelValues(ceremony).Inc()
}

// RecordChallengesSwept adds the number of challenges removed by a sweep.
func RecordChallengesSwept(count int) {
	ChallengesSweptTotal.Add(float64(count))
}

// RecordCloneWarning increments the clone-warning counter.
func RecordCloneWarning() {
	CloneWarningsTotal.Inc()
}
