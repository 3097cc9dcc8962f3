// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeEncoder 将时间序列化为人类可读的带时区格式。
func DefaultTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	s := t.Format("2006/01/02 15:04:05.000 -07:00")
	enc.AppendString(s)
}

// ShortCallerEncoder 将调用方序列化为 package/file:line 短格式。
func ShortCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(caller.TrimmedPath())
}

// NewTextEncoderByConfig 根据配置创建日志编码器。
// Format 为 json 时输出 JSON，其余（text/console/空）输出文本格式。
func NewTextEncoderByConfig(cfg *Config) zapcore.Encoder {
	cc := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "name",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     DefaultTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   ShortCallerEncoder,
	}
	if cfg.DisableTimestamp {
		cc.TimeKey = zapcore.OmitKey
	}
	if cfg.DisableErrorVerbose {
		// 关闭 cockroachdb/errors 的多行详细输出，错误仅保留单行消息。
		cc.StacktraceKey = zapcore.OmitKey
	}

	if strings.EqualFold(cfg.Format, "json") {
		return &textEncoder{Encoder: zapcore.NewJSONEncoder(cc)}
	}
	return &textEncoder{Encoder: zapcore.NewConsoleEncoder(cc)}
}

// textEncoder 在 zap 自带编码器之上保持 text core 需要的具体类型，
// 使 textIOCore/asyncTextIOCore 的 With 能把字段累积进编码器副本。
type textEncoder struct {
	zapcore.Encoder
}

// addFields 将字段追加到编码器自身携带的上下文中。
func (t *textEncoder) addFields(fields []zapcore.Field) {
	for _, field := range fields {
		field.AddTo(t.Encoder)
	}
}

// Clone 返回保持 *textEncoder 具体类型的编码器副本。
func (t *textEncoder) Clone() zapcore.Encoder {
	return &textEncoder{Encoder: t.Encoder.Clone()}
}
