package rag_test

import (
	"context"
	"os"
	"strings"

	"github.com/mudler/ragscope/pkg/openaitest"
	. "github.com/mudler/ragscope/rag"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

var _ = Describe("Tracing", func() {
	var (
		ctx      context.Context
		recorder *tracetest.SpanRecorder
		p        *Pipeline
	)

	spansNamed := func(name string) []sdktrace.ReadOnlySpan {
		var spans []sdktrace.ReadOnlySpan
		for _, s := range recorder.Ended() {
			if s.Name() == name {
				spans = append(spans, s)
			}
		}
		return spans
	}

	BeforeEach(func() {
		ctx = context.Background()

		recorder = tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		otel.SetTracerProvider(tp)
		DeferCleanup(func() {
			otel.SetTracerProvider(noop.NewTracerProvider())
			Expect(tp.Shutdown(context.Background())).To(Succeed())
		})

		server := openaitest.NewServer()
		DeferCleanup(server.Close)
		server.SetAnswer(func(system, user string) string {
			if strings.Contains(openaitest.Context(user), "Paris") {
				return "Paris."
			}
			return "The context does not say."
		})

		cfg := testConfig(server)
		writeDoc(cfg.DocsDir, "france.txt", "The capital of France is Paris.")

		var err error
		p, err = New(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(p.Close)
	})

	It("should trace ingestion", func() {
		Expect(spansNamed("rag.ingest")).To(HaveLen(1))
	})

	It("should trace a run with retrieve and generate children", func() {
		out, err := p.Run(ctx, "What is the capital of France?")
		Expect(err).ToNot(HaveOccurred())

		runs := spansNamed("rag.run")
		Expect(runs).To(HaveLen(1))
		run := runs[0]
		Expect(out.TraceID).To(Equal(run.SpanContext().TraceID().String()))
		Expect(out.TraceID).ToNot(BeEmpty())

		for _, name := range []string{"rag.retrieve", "rag.generate"} {
			children := spansNamed(name)
			Expect(children).To(HaveLen(1), name)
			Expect(children[0].Parent().SpanID()).To(Equal(run.SpanContext().SpanID()), name)
			Expect(children[0].SpanContext().TraceID()).To(Equal(run.SpanContext().TraceID()), name)
		}
	})

	It("should record the trace ID in the run log", func() {
		out, err := p.Run(ctx, "What is the capital of France?")
		Expect(err).ToNot(HaveOccurred())

		data, err := os.ReadFile(p.RunLog().Path())
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"trace_id":"` + out.TraceID + `"`))

		records, err := p.RunLog().Recent(1)
		Expect(err).ToNot(HaveOccurred())
		Expect(records[0].TraceID).To(Equal(out.TraceID))
	})
})
