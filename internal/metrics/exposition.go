package metrics

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// ContentType is the MIME type of the text exposition format.
func ContentType() string {
	return string(expfmt.FmtText)
}

// Render returns a text snapshot of every registered metric. It does not
// modify any metric value.
func (r *Registry) Render() ([]byte, error) {
	fams, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(fams))
	for _, f := range fams {
		byName[f.GetName()] = f
	}

	r.mu.Lock()
	entries := slices.Clone(r.entries)
	r.mu.Unlock()

	var buf bytes.Buffer
	for _, e := range entries {
		for _, name := range e.names {
			f, ok := byName[name]
			if !ok {
				if e.header {
					writeHeader(&buf, name, e.help, e.typ)
				}
				continue
			}
			delete(byName, name)
			if e.order != nil {
				e.order.sort(f)
			}
			if _, err := expfmt.MetricFamilyToText(&buf, f); err != nil {
				return nil, fmt.Errorf("encode %s: %w", name, err)
			}
		}
	}
	// Families no entry claimed keep the gathered (name) order.
	for _, f := range fams {
		if _, ok := byName[f.GetName()]; !ok {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&buf, f); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// writeHeader emits the HELP and TYPE lines of a metric with no series.
func writeHeader(w io.Writer, name, help, typ string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, typ)
}

// Handler serves Render with the exposition content type.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, err := r.Render()
		if err != nil {
			slog.Error("render metrics", "err", err)
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ContentType())
		_, _ = w.Write(body)
	})
}
