package json

import (
	"io"

	"github.com/bytedance/sonic"
)

// 统一的 JSON 编解码入口，内部基于 sonic 并保持与标准库一致的行为。
var api = sonic.ConfigStd

// Marshal 将 v 序列化为 JSON 字节。
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal 将 JSON 字节反序列化到 v。
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// MarshalIndent 序列化并按指定前缀与缩进格式化输出。
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// NewEncoder 返回写入 w 的 JSON 编码器。
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder 返回从 r 读取的 JSON 解码器。
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
