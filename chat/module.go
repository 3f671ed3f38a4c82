// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat contains the data structures for assistant sessions and messages.
package chat

import "fmt"

// =============================================================================
// MODULE TYPE
// =============================================================================

// ModuleType identifies the assistant module a request is addressed to. The
// value is sent on the wire as the module_type field.
type ModuleType string

const (
	// ModuleGeneral is free-form conversation.
	ModuleGeneral ModuleType = "general"

	// ModuleGrammar checks and corrects grammar.
	ModuleGrammar ModuleType = "grammar"

	// ModuleQA answers questions against the user's material.
	ModuleQA ModuleType = "qa"

	// ModuleReformulate rewrites text in a requested style.
	ModuleReformulate ModuleType = "reformulate"

	// ModuleSummarize condenses text.
	ModuleSummarize ModuleType = "summarize"

	// ModulePlan generates an essay plan from type and structure parameters.
	ModulePlan ModuleType = "plan"

	// ModuleModel routes generation to an explicitly selected model.
	ModuleModel ModuleType = "model"
)

// String returns the wire value of the module type.
func (m ModuleType) String() string {
	return string(m)
}

// IsValid reports whether the module type is one of the known modules.
func (m ModuleType) IsValid() bool {
	switch m {
	case ModuleGeneral, ModuleGrammar, ModuleQA, ModuleReformulate,
		ModuleSummarize, ModulePlan, ModuleModel:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the module.
func (m ModuleType) DisplayName() string {
	switch m {
	case ModuleGeneral:
		return "General"
	case ModuleGrammar:
		return "Grammar check"
	case ModuleQA:
		return "Q&A"
	case ModuleReformulate:
		return "Reformulation"
	case ModuleSummarize:
		return "Summarization"
	case ModulePlan:
		return "Essay plan"
	case ModuleModel:
		return "Model-routed"
	default:
		return string(m)
	}
}

// ParseModuleType converts a wire value to a ModuleType.
func ParseModuleType(s string) (ModuleType, error) {
	m := ModuleType(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown module type: %q", s)
	}
	return m, nil
}

// AllModules returns the known module types in display order.
func AllModules() []ModuleType {
	return []ModuleType{
		ModuleGeneral, ModuleGrammar, ModuleQA, ModuleReformulate,
		ModuleSummarize, ModulePlan, ModuleModel,
	}
}

// =============================================================================
// SEND OPTIONS
// =============================================================================

// SendOptions carries the optional, module-specific parameters of one request.
// The zero value is valid for every module.
type SendOptions struct {
	// UseWebSearch asks the backend to ground the response with web results.
	UseWebSearch bool

	// Style selects the rewriting style for the reformulation module.
	Style string

	// PlanType and Structure parameterize essay plan generation.
	PlanType  string
	Structure string

	// Model overrides the backend's model choice for this request.
	Model string

	// QuickAction is a one-shot directive hint attached to the request.
	QuickAction string
}
