// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration: SDK setup,
// trace-aware logging, and the engine's metric instruments.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Metis engine telemetry. LLM attributes follow the
// standard gen_ai conventions; everything else lives under the metis.*
// namespace.
const (
	// Request attributes
	AttrRequestID     = "metis.request.id"
	AttrRequestStatus = "metis.request.status"
	AttrIdentity      = "metis.request.identity"

	// Conversation attributes
	AttrHistoryLength = "metis.history.length"
	AttrStateKeys     = "metis.state.keys"

	// Retrieval attributes
	AttrRetrievalTopK     = "metis.retrieval.top_k"
	AttrRetrievalSnippets = "metis.retrieval.snippet_count"
	AttrCollection        = "metis.retrieval.collection"

	// Skill attributes
	AttrSkillName     = "metis.skill.name"
	AttrSkillCategory = "metis.skill.category"
	AttrSkillCount    = "metis.skill.selected_count"

	// Resilience attributes
	AttrOperation    = "metis.operation"
	AttrAttempt      = "metis.attempt"
	AttrBreakerState = "metis.breaker.state"
	AttrErrorCode    = "metis.error.code"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel       = "gen_ai.request.model"
	AttrLLMProvider    = "gen_ai.system"
	AttrLLMTemperature = "gen_ai.request.temperature"
	AttrLLMMaxTokens   = "gen_ai.request.max_tokens"
	AttrLLMTokensInput = "gen_ai.usage.input_tokens"
	AttrLLMTokensOut   = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs  = "gen_ai.duration_ms"
)

// RequestAttributes returns common attributes for request spans.
func RequestAttributes(requestID, identity string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRequestID, requestID),
	}
	if identity != "" {
		attrs = append(attrs, attribute.String(AttrIdentity, identity))
	}
	return attrs
}

// SkillAttributes returns attributes for skill execution spans.
func SkillAttributes(name, category string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
	}
	if category != "" {
		attrs = append(attrs, attribute.String(AttrSkillCategory, category))
	}
	return attrs
}

// RetrievalAttributes returns attributes for retrieval spans.
func RetrievalAttributes(topK, snippets int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrRetrievalTopK, topK),
		attribute.Int(AttrRetrievalSnippets, snippets),
	}
}

// LLMUsageAttributes returns token usage attributes for completion spans.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOut, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
