// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"github.com/jeranaias/inkwell/chat"
)

// =============================================================================
// REQUEST PAYLOAD
// =============================================================================

// Payload is the module-agnostic request envelope sent to both the streaming
// and one-shot endpoints. Module-specific parameters live inside Metadata so
// the wire shape is identical across modules; Metadata is always present,
// never null.
type Payload struct {
	Content      string            `json:"content"`
	ModuleType   string            `json:"module_type"`
	UseWebSearch bool              `json:"use_web_search"`
	Metadata     map[string]string `json:"metadata"`
}

// BuildRequest shapes the outgoing payload for one send. Pure function: the
// same inputs always produce the same payload.
//
// The style parameter applies to the reformulation module only, and the essay
// plan parameters to the plan module only; a model override and quick-action
// hint may accompany any module.
func BuildRequest(module chat.ModuleType, content string, opts chat.SendOptions) Payload {
	p := Payload{
		Content:      content,
		ModuleType:   module.String(),
		UseWebSearch: opts.UseWebSearch,
		Metadata:     map[string]string{},
	}

	switch module {
	case chat.ModuleReformulate:
		if opts.Style != "" {
			p.Metadata["style"] = opts.Style
		}
	case chat.ModulePlan:
		if opts.PlanType != "" {
			p.Metadata["plan_type"] = opts.PlanType
		}
		if opts.Structure != "" {
			p.Metadata["structure"] = opts.Structure
		}
	}

	if opts.Model != "" {
		p.Metadata["model"] = opts.Model
	}
	if opts.QuickAction != "" {
		p.Metadata["quick_action"] = opts.QuickAction
	}

	return p
}
