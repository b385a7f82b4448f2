package prometheus

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is satisfied by *hostauth.Engine.
type Source interface {
	MetricsSnapshot() hostauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine metrics in the Prometheus text exposition format.
type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_ = p.Expose(w)
	})
}

// Render returns the current metrics, or "" when metrics are disabled.
func (p *Exporter) Render() string {
	var buf bytes.Buffer
	_ = p.Expose(&buf)
	return buf.String()
}

// Expose writes the exposition text to w. It writes nothing when the
// source has no metrics enabled and no audit drops.
func (p *Exporter) Expose(w io.Writer) error {
	if p == nil || p.source == nil {
		return nil
	}
	snap := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	tw := &textWriter{w: w}
	for _, def := range internaldefs.CounterDefs {
		tw.family(def.Name, def.Help, "counter")
		tw.sample(def.Name, "", snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		tw.family(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			tw.sample(def.Name+"_bucket", `le="`+le+`"`, cumulative[i])
		}
		tw.sample(def.Name+"_count", "", cumulative[len(cumulative)-1])
		// bucket counts only; durations are not summed
		tw.sample(def.Name+"_sum", "", 0)
	}
	tw.family(internaldefs.AuditDroppedName, "Audit events dropped under backpressure.", "counter")
	tw.sample(internaldefs.AuditDroppedName, "", dropped)

	return tw.err
}

// textWriter keeps the first write error and skips later writes.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) write(s string) {
	if t.err != nil {
		return
	}
	_, t.err = io.WriteString(t.w, s)
}

func (t *textWriter) family(name, help, kind string) {
	t.write("# HELP " + name + " " + escapeHelp(help) + "\n")
	t.write("# TYPE " + name + " " + kind + "\n")
}

func (t *textWriter) sample(name, labels string, v uint64) {
	if labels != "" {
		name += "{" + labels + "}"
	}
	t.write(name + " " + strconv.FormatUint(v, 10) + "\n")
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
