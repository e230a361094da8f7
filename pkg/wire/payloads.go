package wire

import (
	"github.com/rqure/qcore/pkg/qstore/snapshot"
)

// schemaPayload is the UPDATE_SCHEMA JSON body, validated at the wire
// boundary before it reaches the store engine.
type schemaPayload struct {
	EntityType string         `json:"entityType" validate:"required"`
	Inherit    []string       `json:"inherit,omitempty"`
	Fields     []fieldPayload `json:"fields" validate:"dive"`
}

func (p schemaPayload) toJSONSchema() snapshot.JSONSchema {
	out := snapshot.JSONSchema{EntityType: p.EntityType, Inherit: p.Inherit}
	for _, f := range p.Fields {
		out.Fields = append(out.Fields, f.toJSONField())
	}
	return out
}

// fieldPayload is one field schema in a wire payload.
type fieldPayload struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind" validate:"required,oneof=Blob Bool Choice EntityList EntityReference Float Int String Timestamp"`
	Default any      `json:"default,omitempty"`
	Rank    int64    `json:"rank"`
	Scope   string   `json:"scope" validate:"omitempty,oneof=Runtime Configuration"`
	Choices []string `json:"choices,omitempty"`
}

func (p fieldPayload) toJSONField() snapshot.JSONField {
	return snapshot.JSONField{
		Name:    p.Name,
		Kind:    p.Kind,
		Default: p.Default,
		Rank:    p.Rank,
		Scope:   p.Scope,
		Choices: p.Choices,
	}
}

// notifyPayload is the REGISTER_NOTIFICATION / UNREGISTER_NOTIFICATION
// JSON body.
type notifyPayload struct {
	Kind            string   `json:"kind" validate:"required,oneof=entity_id entity_type"`
	EntityId        string   `json:"entityId,omitempty"`
	EntityType      string   `json:"entityType,omitempty"`
	FieldType       string   `json:"fieldType" validate:"required"`
	TriggerOnChange bool     `json:"triggerOnChange"`
	Context         []string `json:"context,omitempty"`
}
