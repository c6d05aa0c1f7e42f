package serializer

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/lk2023060901/danmu-garden-netser/internal/json"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// JSONSerializer 基于 internal/json（bytedance/sonic），用于导出可读的调试快照。
type JSONSerializer struct{}

var _ Serializer = JSONSerializer{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ProtoSerializer 编解码 proto.Message，回放文件头的元数据使用它。
type ProtoSerializer struct{}

var _ Serializer = ProtoSerializer{}

func asMessage(v any) (proto.Message, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, merr.WrapErrInvalidArgument(fmt.Sprintf("ProtoSerializer requires proto.Message, got %T", v))
	}
	return msg, nil
}

func (ProtoSerializer) Marshal(v any) ([]byte, error) {
	msg, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

func (ProtoSerializer) Unmarshal(data []byte, v any) error {
	msg, err := asMessage(v)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}
