// Package observe provides application-wide observability primitives for
// Voicewire: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voicewire metrics.
const meterName = "github.com/voicewire/voicewire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TimeToFirstAudio tracks the span from end of caller speech to the first
	// agent audio byte reaching the carrier. The headline latency number.
	TimeToFirstAudio metric.Float64Histogram

	// STTWaitDuration tracks the span from end of caller speech to the
	// committed transcript.
	STTWaitDuration metric.Float64Histogram

	// LLMFirstTokenDuration tracks the span from LLM request to its first
	// streamed token.
	LLMFirstTokenDuration metric.Float64Histogram

	// TTSFirstAudioDuration tracks the span from first complete sentence to
	// its first synthesized audio chunk.
	TTSFirstAudioDuration metric.Float64Histogram

	// TurnDuration tracks total turn length, caller speech start to end of
	// agent playback.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversation turns. Use with attribute:
	//   attribute.String("outcome", "completed"|"interrupted"|"abandoned")
	Turns metric.Int64Counter

	// BargeIns counts caller interruptions during agent speech. Use with
	// attribute: attribute.String("trigger", "energy"|"transcript")
	BargeIns metric.Int64Counter

	// Fillers counts filler phrases played while the caller waited.
	Fillers metric.Int64Counter

	// EchoDrops counts transcripts discarded as agent-speech echo.
	EchoDrops metric.Int64Counter

	// TranscriptionErrors counts empty or corrupt transcripts discarded before
	// aggregation.
	TranscriptionErrors metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Bottlenecks counts which pipeline stage dominated each turn's latency.
	// Use with attribute: attribute.String("stage", "stt"|"llm"|"tts")
	Bottlenecks metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live phone calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TimeToFirstAudio, err = m.Float64Histogram("voicewire.turn.time_to_first_audio",
		metric.WithDescription("Span from end of caller speech to first agent audio byte."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTWaitDuration, err = m.Float64Histogram("voicewire.stt.wait_duration",
		metric.WithDescription("Span from end of caller speech to committed transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstTokenDuration, err = m.Float64Histogram("voicewire.llm.first_token_duration",
		metric.WithDescription("Span from LLM request to first streamed token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstAudioDuration, err = m.Float64Histogram("voicewire.tts.first_audio_duration",
		metric.WithDescription("Span from first complete sentence to first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voicewire.turn.duration",
		metric.WithDescription("Total turn length, caller speech start to end of agent playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("voicewire.turns",
		metric.WithDescription("Completed conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicewire.barge_ins",
		metric.WithDescription("Caller interruptions during agent speech by trigger."),
	); err != nil {
		return nil, err
	}
	if met.Fillers, err = m.Int64Counter("voicewire.fillers",
		metric.WithDescription("Filler phrases played while the caller waited."),
	); err != nil {
		return nil, err
	}
	if met.EchoDrops, err = m.Int64Counter("voicewire.echo_drops",
		metric.WithDescription("Transcripts discarded as agent-speech echo."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("voicewire.stt.transcription_errors",
		metric.WithDescription("Empty or corrupt transcripts discarded before aggregation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voicewire.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicewire.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Bottlenecks, err = m.Int64Counter("voicewire.turn.bottlenecks",
		metric.WithDescription("Pipeline stage that dominated each turn's latency."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voicewire.active_calls",
		metric.WithDescription("Number of live phone calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicewire.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records a completed turn with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordBargeIn records a caller interruption with its detection trigger.
func (m *Metrics) RecordBargeIn(ctx context.Context, trigger string) {
	m.BargeIns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordBottleneck records which stage dominated a turn's latency.
func (m *Metrics) RecordBottleneck(ctx context.Context, stage string) {
	m.Bottlenecks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
