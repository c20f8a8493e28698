// Package tracing configures OpenTelemetry export of pipeline traces.
package tracing

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mudler/ragscope/pkg/config"
)

// ExporterType defines the type of exporter to use.
type ExporterType string

const (
	// ExporterLangSmith exports spans to LangSmith's OTLP endpoint.
	ExporterLangSmith ExporterType = "langsmith"
	// ExporterOTLPGRPC exports spans via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	// ExporterOTLPHTTP exports spans via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp_http"
	// ExporterStdout writes spans as JSON.
	ExporterStdout ExporterType = "stdout"
)

const langSmithTracesPath = "/otel/v1/traces"

// Options defines configuration for OpenTelemetry tracing.
type Options struct {
	// Enabled installs a global tracer provider. When false spans are not
	// recorded and runs carry no trace ID.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	ExporterType ExporterType

	// Endpoint is a URL (http://host:4317) or host:port.
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool

	// Headers are additional headers to send with OTLP requests.
	Headers map[string]string

	// Writer receives stdout exporter output.
	Writer io.Writer

	// BatchTimeout is the maximum time to wait before exporting a batch.
	BatchTimeout time.Duration
}

// NewOptions returns disabled tracing with default settings.
func NewOptions() *Options {
	return &Options{
		ServiceName:  "llm-observability-demo",
		Writer:       os.Stdout,
		BatchTimeout: 5 * time.Second,
	}
}

// OptionsFromConfig picks the exporter: LangSmith when LANGCHAIN_TRACING_V2
// is on, then a console exporter, then OTLP when an endpoint is set.
// Otherwise tracing stays disabled.
func OptionsFromConfig(cfg *config.Config, version string) *Options {
	opts := NewOptions()
	opts.ServiceName = cfg.OTelServiceName
	opts.ServiceVersion = version

	switch {
	case cfg.LangSmithTracing:
		opts.Enabled = true
		opts.ExporterType = ExporterLangSmith
		opts.Endpoint = strings.TrimSuffix(cfg.LangSmithEndpoint, "/") + langSmithTracesPath
		opts.Headers = map[string]string{
			"x-api-key":         cfg.LangSmithAPIKey,
			"Langsmith-Project": cfg.LangSmithProject,
		}
	case cfg.TracesExporter == "console":
		opts.Enabled = true
		opts.ExporterType = ExporterStdout
	case cfg.OTLPEndpoint != "" && cfg.OTelServiceName != "":
		opts.Enabled = true
		opts.Endpoint = cfg.OTLPEndpoint
		opts.Insecure = strings.HasPrefix(cfg.OTLPEndpoint, "http://")
		opts.ExporterType = ExporterOTLPGRPC
		if strings.HasPrefix(cfg.OTLPProtocol, "http") {
			opts.ExporterType = ExporterOTLPHTTP
		}
	}

	return opts
}
