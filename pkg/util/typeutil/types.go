package typeutil

// UniqueID 为系统内统一使用的唯一标识类型。
type UniqueID = int64

// Timestamp 为系统内统一使用的时间戳类型，单位毫秒。
type Timestamp = uint64
