package netser

import (
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

var bufferPool bytebufferpool.Pool

// Marshal 用一个新的 SerializeContext 序列化根对象，返回的切片归调用方所有。
func (r *Registry) Marshal(v any, defs *DefinitionTable) ([]byte, error) {
	bb := bufferPool.Get()
	defer bufferPool.Put(bb)

	w := wire.NewWriter(bb.B[:0])
	if err := r.NewSerializeContext(defs).Serialize(w, v); err != nil {
		return nil, err
	}
	bb.B = w.Bytes()
	out := make([]byte, len(bb.B))
	copy(out, bb.B)
	return out, nil
}

// Unmarshal 把 data 反序列化到 out。开启 WithChecked 时 data 必须被完整消费。
func (r *Registry) Unmarshal(data []byte, out any, defs *DefinitionTable) error {
	rd := wire.NewReader(data)
	if err := r.NewDeserializeContext(defs).Deserialize(rd, out); err != nil {
		return err
	}
	if r.opts.checked && rd.Remaining() != 0 {
		return merr.WrapErrStreamCorrupt(fmt.Sprintf("%d trailing bytes", rd.Remaining()))
	}
	return nil
}
