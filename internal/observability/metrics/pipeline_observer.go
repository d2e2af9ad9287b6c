package metrics

import "time"

// PipelineObserver adapts HTTPServerMetrics to the orchestrator's observer
// contract with the service label fixed up front.
type PipelineObserver struct {
	metrics *HTTPServerMetrics
	service string
}

func (m *HTTPServerMetrics) NewPipelineObserver(service string) *PipelineObserver {
	return &PipelineObserver{metrics: m, service: service}
}

func (o *PipelineObserver) StageCompleted(stage string, duration time.Duration) {
	o.metrics.RecordStageDuration(o.service, stage, duration)
}

func (o *PipelineObserver) DirectAnswer() {
	o.metrics.RecordDirectAnswer(o.service)
}

func (o *PipelineObserver) ValidationOutcome(status string) {
	o.metrics.RecordValidationOutcome(o.service, status)
}

func (o *PipelineObserver) Regeneration() {
	o.metrics.RecordRegeneration(o.service)
}
