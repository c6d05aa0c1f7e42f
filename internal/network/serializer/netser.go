package serializer

import (
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser"
)

// NetSerializer 使用 netser 注册表编解码对象图，v 的类型必须已注册为根类型。
//
// Defs 为空时不做定义替换；非空时编码端与解码端必须持有同一份定义表。
type NetSerializer struct {
	Registry *netser.Registry
	Defs     *netser.DefinitionTable
}

var _ Serializer = (*NetSerializer)(nil)

// NewNetSerializer 创建一个 NetSerializer。
func NewNetSerializer(reg *netser.Registry, defs *netser.DefinitionTable) *NetSerializer {
	return &NetSerializer{Registry: reg, Defs: defs}
}

func (s *NetSerializer) Marshal(v any) ([]byte, error) {
	return s.Registry.Marshal(v, s.Defs)
}

// Unmarshal 中 v 必须是指向根类型的非空指针。
func (s *NetSerializer) Unmarshal(data []byte, v any) error {
	return s.Registry.Unmarshal(data, v, s.Defs)
}
