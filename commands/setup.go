package commands

import (
	"context"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	"github.com/l2-l1-causal-impact/bridge/metrics"
)

var log = logging.Logger("bridge/commands")

// Version of the bridge tool.
const Version = "0.4.0"

type BridgeLogOpts struct {
	LogLevel      string
	LogLevelNamed string
}

var BridgeLogFlags BridgeLogOpts

type BridgeTracingOpts struct {
	Enabled            bool
	ServiceName        string
	ProviderURL        string
	JaegerSamplerParam float64
}

var BridgeTracingFlags BridgeTracingOpts

type BridgeMetricOpts struct {
	// MetricsFile receives the metrics of the run in the prometheus textfile format.
	MetricsFile string
}

var BridgeMetricFlags BridgeMetricOpts

// Flags shared by every command, registered on the app.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "log-level",
		EnvVars:     []string{"GOLOG_LOG_LEVEL"},
		Value:       "info",
		Usage:       "Set the default log level for all loggers to `LEVEL`",
		Destination: &BridgeLogFlags.LogLevel,
	},
	&cli.StringFlag{
		Name:        "log-level-named",
		EnvVars:     []string{"BRIDGE_LOG_LEVEL_NAMED"},
		Value:       "",
		Usage:       "A comma delimited list of named loggers and log levels formatted as name:level, for example 'bridge/gates:debug,bridge/storage:warn'",
		Destination: &BridgeLogFlags.LogLevelNamed,
	},
	&cli.BoolFlag{
		Name:        "tracing",
		EnvVars:     []string{"BRIDGE_TRACING"},
		Value:       false,
		Usage:       "Enable tracing",
		Destination: &BridgeTracingFlags.Enabled,
	},
	&cli.StringFlag{
		Name:        "jaeger-service-name",
		EnvVars:     []string{"BRIDGE_JAEGER_SERVICE_NAME"},
		Value:       "bridge",
		Destination: &BridgeTracingFlags.ServiceName,
	},
	&cli.StringFlag{
		Name:        "jaeger-provider-url",
		EnvVars:     []string{"BRIDGE_JAEGER_PROVIDER_URL"},
		Value:       "http://localhost:14268/api/traces",
		Destination: &BridgeTracingFlags.ProviderURL,
	},
	&cli.Float64Flag{
		Name:        "jaeger-sampler-ratio",
		EnvVars:     []string{"BRIDGE_JAEGER_SAMPLER_RATIO"},
		Usage:       "If less than 1 probabilistic metrics will be used.",
		Value:       1,
		Destination: &BridgeTracingFlags.JaegerSamplerParam,
	},
	&cli.StringFlag{
		Name:        "metrics-file",
		EnvVars:     []string{"BRIDGE_METRICS_FILE"},
		Usage:       "Write the metrics of the run to `FILE` in the prometheus textfile format",
		Destination: &BridgeMetricFlags.MetricsFile,
	},
}

func setupLogging(flags BridgeLogOpts) error {
	ll := flags.LogLevel
	if err := logging.SetLogLevel("*", ll); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	llnamed := flags.LogLevelNamed
	if llnamed != "" {
		for _, llname := range strings.Split(llnamed, ",") {
			parts := strings.Split(llname, ":")
			if len(parts) != 2 {
				return fmt.Errorf("invalid named log level format: %q", llname)
			}
			if err := logging.SetLogLevel(parts[0], parts[1]); err != nil {
				return fmt.Errorf("set named log level %q to %q: %w", parts[0], parts[1], err)
			}
		}
	}

	log.Infof("bridge version:%s", Version)
	return nil
}

func setupMetrics(flags BridgeMetricOpts) (*metrics.Textfile, error) {
	tf, err := metrics.NewTextfile("bridge", flags.MetricsFile)
	if err != nil {
		return nil, fmt.Errorf("setup metrics: %w", err)
	}
	return tf, nil
}

func setupTracing(flags BridgeTracingOpts) (*tracesdk.TracerProvider, error) {
	if !flags.Enabled {
		return nil, nil
	}

	tp, err := metrics.NewJaegerTraceProvider(flags.ServiceName, flags.ProviderURL, flags.JaegerSamplerParam)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	otel.SetTracerProvider(tp)
	return tp, nil
}

var (
	textfile *metrics.Textfile
	tracer   *tracesdk.TracerProvider
)

// initialize prepares logging, metrics and tracing for a command.
func initialize(_ *cli.Context) error {
	if err := setupLogging(BridgeLogFlags); err != nil {
		return err
	}
	tf, err := setupMetrics(BridgeMetricFlags)
	if err != nil {
		return err
	}
	textfile = tf

	tp, err := setupTracing(BridgeTracingFlags)
	if err != nil {
		return err
	}
	tracer = tp
	return nil
}

// destroy flushes the metrics of the run and the pending spans.
func destroy(cctx *cli.Context) error {
	if textfile != nil {
		if err := textfile.Flush(); err != nil {
			log.Errorw("flush metrics", "error", err)
		}
	}
	if tracer != nil {
		if err := tracer.Shutdown(context.Background()); err != nil {
			log.Errorw("shutdown tracing", "error", err)
		}
	}
	return nil
}
