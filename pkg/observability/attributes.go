package observability

import "go.opentelemetry.io/otel/attribute"

// HiveForge semantic convention attributes.
var (
	AttrRunID    = attribute.Key("hiveforge.run.id")
	AttrHiveID   = attribute.Key("hiveforge.hive.id")
	AttrColonyID = attribute.Key("hiveforge.colony.id")
	AttrTaskID   = attribute.Key("hiveforge.task.id")
	AttrWorkerID = attribute.Key("hiveforge.worker.id")
	AttrAgent    = attribute.Key("hiveforge.agent")

	AttrEventType  = attribute.Key("hiveforge.event.type")
	AttrStream     = attribute.Key("hiveforge.stream")
	AttrOperation  = attribute.Key("hiveforge.operation")
	AttrLLMModel   = attribute.Key("hiveforge.llm.model")
	AttrTokensUsed = attribute.Key("hiveforge.llm.tokens_used")
	AttrVerdict    = attribute.Key("hiveforge.guard.verdict")
)

// RunAttrs labels spans and metrics for one run.
func RunAttrs(runID, agent string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrAgent.String(agent),
	}
}

// TaskAttrs labels a task execution.
func TaskAttrs(runID, taskID, workerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrTaskID.String(taskID),
		AttrWorkerID.String(workerID),
	}
}

// LLMAttrs labels a model call.
func LLMAttrs(model string, tokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLLMModel.String(model),
		AttrTokensUsed.Int(tokens),
	}
}
