package serializer

// Serializer 把对象编码为一段独立的字节负载，回放帧与文件头元数据都通过它编解码。
//
// 实现包括 netser 对象图（NetSerializer）、JSON 与 Protobuf。
type Serializer interface {
	Marshal(v any) ([]byte, error)

	// Unmarshal 把 data 解码到 v，v 通常为指针。
	Unmarshal(data []byte, v any) error
}
