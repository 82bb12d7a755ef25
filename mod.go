// Package mandate implements the delegation policy engine of a multi-tenant
// government services platform. It decides who may act on whose behalf for
// which resource and action, and lets authorized parties delegate subsets of
// their own access onward.
package mandate

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PromCollectors exposes the prometheus collectors of the different packages.
// An operational surface can use this list to register them all at once.
var PromCollectors []prometheus.Collector

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(zerolog.InfoLevel)
