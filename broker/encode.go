package broker

import (
	"encoding/json"
	"fmt"

	"github.com/zllovesuki/stripemirror/spec"

	extErrors "github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const protobufContentType = "application/x-protobuf"

// encodeNotification packs n into a protobuf Struct. Data may hold any JSON value.
func encodeNotification(n *spec.Notification) ([]byte, error) {
	data := structpb.NewNullValue()
	if len(n.Data) > 0 {
		data = &structpb.Value{}
		if err := protojson.Unmarshal(n.Data, data); err != nil {
			return nil, extErrors.Wrap(err, "Cannot convert notification data")
		}
	}
	s := &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"kind":    structpb.NewStringValue(n.Kind),
			"eventId": structpb.NewStringValue(n.EventID),
			"data":    data,
		},
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	return b, nil
}

func decodeNotification(b []byte) (*spec.Notification, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode notification")
	}
	n := &spec.Notification{
		Kind:    s.Fields["kind"].GetStringValue(),
		EventID: s.Fields["eventId"].GetStringValue(),
	}
	if n.Kind == "" {
		return nil, fmt.Errorf("notification has no kind")
	}
	if data, ok := s.Fields["data"]; ok {
		if _, isNull := data.GetKind().(*structpb.Value_NullValue); !isNull {
			raw, err := protojson.Marshal(data)
			if err != nil {
				return nil, extErrors.Wrap(err, "Cannot convert notification data")
			}
			n.Data = json.RawMessage(raw)
		}
	}
	return n, nil
}

func encodeTask(t *spec.Task) ([]byte, error) {
	s := &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"type":    structpb.NewStringValue(string(t.Type)),
			"eventId": structpb.NewStringValue(t.EventID),
		},
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	return b, nil
}

func decodeTask(b []byte) (*spec.Task, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode task")
	}
	t := &spec.Task{
		Type:    spec.TaskType(s.Fields["type"].GetStringValue()),
		EventID: s.Fields["eventId"].GetStringValue(),
	}
	if t.Type == "" || t.EventID == "" {
		return nil, fmt.Errorf("task requires type and eventId")
	}
	return t, nil
}
