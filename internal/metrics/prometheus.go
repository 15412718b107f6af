package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_api_requests_total",
		Help: "Total number of backend API requests by method and status class.",
	}, []string{"method", "status"})
	APIRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_api_token_rehydration_retries_total",
		Help: "Total number of silent 401 retries after rehydrating the stored token.",
	})
	LoginSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_logins_success_total",
		Help: "Total number of successful logins by method.",
	}, []string{"method"})
	LoginFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_logins_failure_total",
		Help: "Total number of failed logins by method.",
	}, []string{"method"})
	LogoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_logouts_total",
		Help: "Total number of logouts by reason.",
	}, []string{"reason"})
	SessionRestoresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_session_restores_total",
		Help: "Total number of startup session restorations by result.",
	}, []string{"result"})
	TokenExpirationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_token_expirations_total",
		Help: "Total number of bearer token expirations by trigger.",
	}, []string{"trigger"})
	StorageWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_storage_writes_total",
		Help: "Total number of client state writes by path.",
	}, []string{"mode"})
	CurrencyRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_currency_rate_refreshes_total",
		Help: "Total number of exchange rate refreshes.",
	})
	ActiveSessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_active_session",
		Help: "1 while a user session is active in this process.",
	})
)

// Register registers the storefront metrics with reg.
// It should be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"APIRequestsTotal":      APIRequestsTotal,
		"APIRetriesTotal":       APIRetriesTotal,
		"LoginSuccessTotal":     LoginSuccessTotal,
		"LoginFailureTotal":     LoginFailureTotal,
		"LogoutsTotal":          LogoutsTotal,
		"SessionRestoresTotal":  SessionRestoresTotal,
		"TokenExpirationsTotal": TokenExpirationsTotal,
		"StorageWritesTotal":    StorageWritesTotal,
		"CurrencyRefreshTotal":  CurrencyRefreshTotal,
		"ActiveSessionGauge":    ActiveSessionGauge,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
