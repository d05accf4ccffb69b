package metrics

import (
	"contrib.go.opencensus.io/exporter/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"
)

// Textfile collects the opencensus views of a batch run into a prometheus registry that is written
// out once, in the node_exporter textfile format, when the run finishes.
type Textfile struct {
	path     string
	registry *prom.Registry
}

// NewTextfile registers DefaultViews and returns a Textfile that flushes to path. An empty path
// registers the views but makes Flush a no-op.
func NewTextfile(namespace, path string) (*Textfile, error) {
	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: namespace,
		Registry:  registry,
	})
	if err != nil {
		return nil, xerrors.Errorf("new prometheus exporter: %w", err)
	}
	if err := view.Register(DefaultViews...); err != nil {
		return nil, xerrors.Errorf("register views: %w", err)
	}
	log.Debugw("registered metric views", "namespace", namespace, "exporter", pe != nil, "path", path)

	return &Textfile{path: path, registry: registry}, nil
}

// Path returns the file Flush writes to.
func (t *Textfile) Path() string {
	return t.path
}

// Flush gathers the registry and writes it to the textfile atomically.
func (t *Textfile) Flush() error {
	if t.path == "" {
		return nil
	}
	if err := prom.WriteToTextfile(t.path, t.registry); err != nil {
		return xerrors.Errorf("write metrics textfile: %w", err)
	}
	log.Infow("wrote metrics", "path", t.path)
	return nil
}
