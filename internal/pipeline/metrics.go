package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rakescan_frames_processed_total",
			Help: "Total number of video frames processed",
		},
	)

	frameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rakescan_frame_duration_seconds",
			Help:    "Time spent on one frame in the frame loop",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	tracksSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rakescan_tracks_seen_total",
			Help: "Total number of unique wagon tracks observed",
		},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rakescan_dispatch_total",
			Help: "Recognition dispatch attempts",
		},
		[]string{"outcome"}, // outcome: submitted, dropped
	)

	restorationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rakescan_restorations_total",
			Help: "Crops sent through the restorer after failing the quality gate",
		},
	)

	enhancementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rakescan_enhancements_total",
			Help: "Frames or wagon crops sent through the low-light enhancer",
		},
	)

	recognitionResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rakescan_recognition_results_total",
			Help: "Recognition results merged into wagon records",
		},
		[]string{"status"}, // status: decoded, undecoded, no_text
	)

	recognitionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rakescan_recognition_latency_seconds",
			Help:    "Recognition worker processing time per request",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)
