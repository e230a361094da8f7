package wire

import (
	"strconv"
	"time"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// ValueFrame encodes a typed value as a two-element array: the kind
// name followed by the kind's natural frame shape. Every kind
// round-trips through FrameValue.
func ValueFrame(v value.Value) Frame {
	kind := NewBulkString(v.Kind().String())
	var payload Frame
	switch v.Kind() {
	case value.KindBlob:
		b, _ := v.AsBlob()
		payload = NewBulk(b)
	case value.KindBool:
		b, _ := v.AsBool()
		payload = NewBool(b)
	case value.KindChoice:
		c, _ := v.AsChoice()
		payload = NewInt(c)
	case value.KindEntityList:
		list, _ := v.AsEntityList()
		items := make([]Frame, len(list))
		for i, id := range list {
			items[i] = NewBulkString(id.String())
		}
		payload = NewArray(items...)
	case value.KindEntityReference:
		ref, _ := v.AsEntityReference()
		if ref == nil {
			payload = NewNull()
		} else {
			payload = NewBulkString(ref.String())
		}
	case value.KindFloat:
		f, _ := v.AsFloat()
		payload = NewBulkString(strconv.FormatFloat(f, 'g', -1, 64))
	case value.KindInt:
		i, _ := v.AsInt()
		payload = NewInt(i)
	case value.KindString:
		s, _ := v.AsString()
		payload = NewBulkString(s)
	case value.KindTimestamp:
		ts, _ := v.AsTimestamp()
		payload = NewBulkString(ts.Format(time.RFC3339Nano))
	default:
		payload = NewNull()
	}
	return NewArray(kind, payload)
}

// FrameValue decodes a value frame produced by ValueFrame.
func FrameValue(f Frame) (value.Value, error) {
	if f.Type != TypeArray || len(f.Items) != 2 {
		return value.Value{}, qerrors.InvalidFieldValue("value frame must be a [kind, payload] array")
	}
	kind, ok := value.ParseKind(f.Items[0].Text())
	if !ok {
		return value.Value{}, qerrors.BadValueCast(f.Items[0].Text(), "known kind")
	}
	payload := f.Items[1]

	switch kind {
	case value.KindBlob:
		if payload.Type != TypeBulk {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewBlob(payload.Str), nil
	case value.KindBool:
		if payload.Type != TypeBoolean {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewBool(payload.Bool), nil
	case value.KindChoice:
		if payload.Type != TypeInteger {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewChoice(payload.Int), nil
	case value.KindEntityList:
		if payload.Type != TypeArray {
			return value.Value{}, badPayload(kind, payload)
		}
		list := make([]ids.EntityId, 0, len(payload.Items))
		for _, item := range payload.Items {
			id, err := ids.ParseEntityId(item.Text())
			if err != nil {
				return value.Value{}, qerrors.BadValueCast(item.Text(), "entity id")
			}
			list = append(list, id)
		}
		return value.NewEntityList(list), nil
	case value.KindEntityReference:
		if payload.Type == TypeNull {
			return value.NewEntityReference(nil), nil
		}
		if payload.Type != TypeBulk {
			return value.Value{}, badPayload(kind, payload)
		}
		id, err := ids.ParseEntityId(payload.Text())
		if err != nil {
			return value.Value{}, qerrors.BadValueCast(payload.Text(), "entity id")
		}
		return value.NewEntityReference(&id), nil
	case value.KindFloat:
		f64, err := strconv.ParseFloat(payload.Text(), 64)
		if err != nil {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewFloat(f64), nil
	case value.KindInt:
		if payload.Type != TypeInteger {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewInt(payload.Int), nil
	case value.KindString:
		if payload.Type != TypeBulk {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewString(payload.Text()), nil
	case value.KindTimestamp:
		ts, err := time.Parse(time.RFC3339Nano, payload.Text())
		if err != nil {
			return value.Value{}, badPayload(kind, payload)
		}
		return value.NewTimestamp(ts), nil
	default:
		return value.Value{}, qerrors.BadValueCast(kind.String(), "known kind")
	}
}

func badPayload(kind value.Kind, payload Frame) error {
	return qerrors.BadValueCast(string(payload.Type), kind.String())
}
