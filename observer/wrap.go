package observer

import (
	"context"
	"time"

	tiller "github.com/tillerhq/tiller"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Shared attribute keys.
var (
	attrClient = attribute.Key("model.client")
	attrStatus = attribute.Key("status")
	attrTool   = attribute.Key("tool.command")
)

// ObservedModel wraps a tiller.ModelClient with traces and metrics.
type ObservedModel struct {
	inner tiller.ModelClient
	inst  *Instruments
}

// WrapModel returns an instrumented model client.
func WrapModel(inner tiller.ModelClient, inst *Instruments) *ObservedModel {
	return &ObservedModel{inner: inner, inst: inst}
}

var _ tiller.ModelClient = (*ObservedModel)(nil)

func (o *ObservedModel) Name() string { return o.inner.Name() }

func (o *ObservedModel) Invoke(ctx context.Context, history []tiller.Msg, prompt string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "model.invoke", trace.WithAttributes(
		attrClient.String(o.inner.Name()),
		attribute.Int("history_turns", len(history)),
	))
	defer span.End()
	start := time.Now()

	text, err := o.inner.Invoke(ctx, history, prompt)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.inst.ModelFailures.Add(ctx, 1, metric.WithAttributes(attrClient.String(o.inner.Name())))
	}
	attrs := metric.WithAttributes(attrClient.String(o.inner.Name()), attrStatus.String(status))
	o.inst.ModelRequests.Add(ctx, 1, attrs)
	o.inst.ModelDuration.Record(ctx, durationMs, attrs)
	if err == nil {
		o.inst.TokenUsage.Add(ctx, int64(tiller.EstimateTokens(prompt)+tiller.EstimateTokens(text)), attrs)
	}
	return text, err
}

// ObservedTools wraps a tiller.ToolEngine with traces and metrics.
type ObservedTools struct {
	inner tiller.ToolEngine
	inst  *Instruments
}

// WrapTools returns an instrumented tool engine.
func WrapTools(inner tiller.ToolEngine, inst *Instruments) *ObservedTools {
	return &ObservedTools{inner: inner, inst: inst}
}

var _ tiller.ToolEngine = (*ObservedTools)(nil)

func (o *ObservedTools) Execute(ctx context.Context, command string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attrTool.String(firstToken(command)),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, command)
	o.recordTool(ctx, span, start, err)
	return result, err
}

func (o *ObservedTools) ExecuteWithParams(ctx context.Context, name string, params map[string]any) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute_params", trace.WithAttributes(
		attrTool.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.ExecuteWithParams(ctx, name, params)
	o.recordTool(ctx, span, start, err)
	return result, err
}

func (o *ObservedTools) recordTool(ctx context.Context, span trace.Span, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	attrs := metric.WithAttributes(attrStatus.String(status))
	o.inst.ToolExecutions.Add(ctx, 1, attrs)
	o.inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}

// firstToken trims a trigger command to its leading word for low-cardinality
// span attributes.
func firstToken(command string) string {
	for i, r := range command {
		if r == ' ' || r == '\t' {
			return command[:i]
		}
	}
	return command
}
