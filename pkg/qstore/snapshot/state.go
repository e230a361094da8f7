// Package snapshot implements the snapshot codec: an
// in-memory capture of the whole store state with a deterministic
// binary encoding, a human-oriented JSON form for factory restores,
// and an optional archive target for taken snapshots.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/entity"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// State is the in-memory snapshot: schemas, per-type id lists, known
// types, cells, and the interner tables they are keyed against. The
// interners are part of the state; without them a restored
// instance could not resolve any id back to a name.
type State struct {
	EntityNames     []string
	FieldNames      []string
	Schemas         map[ids.EntityType]schema.SingleSchema
	KnownTypes      []ids.EntityType
	ByType          map[ids.EntityType][]ids.EntityId
	Cells           map[ids.EntityId]map[ids.FieldType]entity.Cell
	SnapshotCounter uint64
}

// MaxEntityId returns the highest entity id present, so a restore can
// advance the id generator past every restored entity.
func (s State) MaxEntityId() ids.EntityId {
	var max ids.EntityId
	for id := range s.Cells {
		if id > max {
			max = id
		}
	}
	return max
}

// Encode renders the state to its opaque binary form. The encoding is
// deterministic: encoding the same state twice, or a restored copy of
// it, yields byte-equal output.
func Encode(s State) ([]byte, error) {
	return json.Marshal(toDTO(s))
}

// Decode parses a blob produced by Encode.
func Decode(blob []byte) (State, error) {
	var dto stateDTO
	if err := json.Unmarshal(blob, &dto); err != nil {
		return State{}, qerrors.Wrap(qerrors.KindInvalidFieldValue, "bad snapshot blob", err)
	}
	return fromDTO(dto)
}

type stateDTO struct {
	EntityNames     []string                                 `json:"entityNames"`
	FieldNames      []string                                 `json:"fieldNames"`
	Schemas         map[ids.EntityType]singleSchemaDTO       `json:"schemas"`
	KnownTypes      []ids.EntityType                         `json:"knownTypes"`
	ByType          map[ids.EntityType][]ids.EntityId        `json:"byType"`
	Cells           map[ids.EntityId]map[ids.FieldType]cellDTO `json:"cells"`
	SnapshotCounter uint64                                   `json:"snapshotCounter"`
}

type singleSchemaDTO struct {
	EntityType ids.EntityType                     `json:"entityType"`
	Inherit    []ids.EntityType                   `json:"inherit,omitempty"`
	Fields     map[ids.FieldType]fieldSchemaDTO   `json:"fields"`
}

type fieldSchemaDTO struct {
	FieldType ids.FieldType `json:"fieldType"`
	Kind      string        `json:"kind"`
	Default   valueDTO      `json:"default"`
	Rank      int64         `json:"rank"`
	Scope     string        `json:"scope"`
	Choices   []string      `json:"choices,omitempty"`
}

type cellDTO struct {
	Value     valueDTO      `json:"value"`
	WriteTime time.Time     `json:"writeTime"`
	WriterId  *ids.EntityId `json:"writerId,omitempty"`
}

type valueDTO struct {
	Kind   string          `json:"kind"`
	Blob   []byte          `json:"blob,omitempty"`
	Bool   *bool           `json:"bool,omitempty"`
	Choice *int64          `json:"choice,omitempty"`
	List   []ids.EntityId  `json:"list,omitempty"`
	Ref    *ids.EntityId   `json:"ref,omitempty"`
	Float  *float64        `json:"float,omitempty"`
	Int    *int64          `json:"int,omitempty"`
	Str    *string         `json:"string,omitempty"`
	Ts     *time.Time      `json:"timestamp,omitempty"`
}

func toDTO(s State) stateDTO {
	schemas := make(map[ids.EntityType]singleSchemaDTO, len(s.Schemas))
	for t, single := range s.Schemas {
		fields := make(map[ids.FieldType]fieldSchemaDTO, len(single.Fields))
		for ft, fs := range single.Fields {
			fields[ft] = fieldSchemaDTO{
				FieldType: fs.FieldType,
				Kind:      fs.Kind.String(),
				Default:   encodeValue(fs.Default),
				Rank:      fs.Rank,
				Scope:     scopeName(fs.StorageScope),
				Choices:   fs.Choices,
			}
		}
		schemas[t] = singleSchemaDTO{EntityType: single.EntityType, Inherit: single.Inherit, Fields: fields}
	}

	cells := make(map[ids.EntityId]map[ids.FieldType]cellDTO, len(s.Cells))
	for id, fieldsOf := range s.Cells {
		fc := make(map[ids.FieldType]cellDTO, len(fieldsOf))
		for ft, cell := range fieldsOf {
			fc[ft] = cellDTO{Value: encodeValue(cell.Value), WriteTime: cell.WriteTime, WriterId: cell.WriterId}
		}
		cells[id] = fc
	}

	return stateDTO{
		EntityNames:     s.EntityNames,
		FieldNames:      s.FieldNames,
		Schemas:         schemas,
		KnownTypes:      s.KnownTypes,
		ByType:          s.ByType,
		Cells:           cells,
		SnapshotCounter: s.SnapshotCounter,
	}
}

func fromDTO(dto stateDTO) (State, error) {
	schemas := make(map[ids.EntityType]schema.SingleSchema, len(dto.Schemas))
	for t, single := range dto.Schemas {
		fields := make(map[ids.FieldType]schema.FieldSchema, len(single.Fields))
		for ft, fs := range single.Fields {
			kind, err := parseKind(fs.Kind)
			if err != nil {
				return State{}, err
			}
			def, err := decodeValue(fs.Default)
			if err != nil {
				return State{}, err
			}
			fields[ft] = schema.FieldSchema{
				FieldType:    fs.FieldType,
				Kind:         kind,
				Default:      def,
				Rank:         fs.Rank,
				StorageScope: parseScope(fs.Scope),
				Choices:      fs.Choices,
			}
		}
		schemas[t] = schema.SingleSchema{EntityType: single.EntityType, Inherit: single.Inherit, Fields: fields}
	}

	cells := make(map[ids.EntityId]map[ids.FieldType]entity.Cell, len(dto.Cells))
	for id, fieldsOf := range dto.Cells {
		fc := make(map[ids.FieldType]entity.Cell, len(fieldsOf))
		for ft, cell := range fieldsOf {
			v, err := decodeValue(cell.Value)
			if err != nil {
				return State{}, err
			}
			fc[ft] = entity.Cell{Value: v, WriteTime: cell.WriteTime, WriterId: cell.WriterId}
		}
		cells[id] = fc
	}

	return State{
		EntityNames:     dto.EntityNames,
		FieldNames:      dto.FieldNames,
		Schemas:         schemas,
		KnownTypes:      dto.KnownTypes,
		ByType:          dto.ByType,
		Cells:           cells,
		SnapshotCounter: dto.SnapshotCounter,
	}, nil
}

func encodeValue(v value.Value) valueDTO {
	dto := valueDTO{Kind: v.Kind().String()}
	switch v.Kind() {
	case value.KindBlob:
		dto.Blob, _ = v.AsBlob()
	case value.KindBool:
		b, _ := v.AsBool()
		dto.Bool = &b
	case value.KindChoice:
		c, _ := v.AsChoice()
		dto.Choice = &c
	case value.KindEntityList:
		dto.List, _ = v.AsEntityList()
	case value.KindEntityReference:
		dto.Ref, _ = v.AsEntityReference()
	case value.KindFloat:
		f, _ := v.AsFloat()
		dto.Float = &f
	case value.KindInt:
		i, _ := v.AsInt()
		dto.Int = &i
	case value.KindString:
		s, _ := v.AsString()
		dto.Str = &s
	case value.KindTimestamp:
		ts, _ := v.AsTimestamp()
		dto.Ts = &ts
	}
	return dto
}

func decodeValue(dto valueDTO) (value.Value, error) {
	kind, err := parseKind(dto.Kind)
	if err != nil {
		return value.Value{}, err
	}
	switch kind {
	case value.KindBlob:
		return value.NewBlob(dto.Blob), nil
	case value.KindBool:
		return value.NewBool(deref(dto.Bool)), nil
	case value.KindChoice:
		return value.NewChoice(deref(dto.Choice)), nil
	case value.KindEntityList:
		return value.NewEntityList(dto.List), nil
	case value.KindEntityReference:
		return value.NewEntityReference(dto.Ref), nil
	case value.KindFloat:
		return value.NewFloat(deref(dto.Float)), nil
	case value.KindInt:
		return value.NewInt(deref(dto.Int)), nil
	case value.KindString:
		return value.NewString(deref(dto.Str)), nil
	case value.KindTimestamp:
		return value.NewTimestamp(deref(dto.Ts)), nil
	default:
		return value.Value{}, qerrors.BadValueCast(dto.Kind, "known kind")
	}
}

func parseKind(name string) (value.Kind, error) {
	for k := value.KindBlob; k <= value.KindTimestamp; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, qerrors.New(qerrors.KindBadValueCast, fmt.Sprintf("unknown value kind %q", name))
}

func scopeName(s schema.StorageScope) string {
	if s == schema.ScopeConfiguration {
		return "Configuration"
	}
	return "Runtime"
}

func parseScope(name string) schema.StorageScope {
	if name == "Configuration" {
		return schema.ScopeConfiguration
	}
	return schema.ScopeRuntime
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
