package grpcsvc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName: content-subtype, под которым зарегистрирован JSON-кодек (application/grpc+json).
const CodecName = "json"

// jsonCodec сериализует сообщения API в JSON. Сообщения описаны обычными Go-структурами, без protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
