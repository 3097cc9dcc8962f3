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
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encodeOne(t *testing.T, enc zapcore.Encoder, msg string) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Now(),
		Message: msg,
	}, nil)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestNewTextEncoderByConfig(t *testing.T) {
	enc := NewTextEncoderByConfig(&Config{Format: "text"})
	te, ok := enc.(*textEncoder)
	require.True(t, ok)

	te.addFields([]zapcore.Field{zap.String("component", "gate")})
	out := encodeOne(t, enc, "service ready")
	assert.Contains(t, out, "service ready")
	assert.Contains(t, out, "gate")
	assert.Contains(t, out, "INFO")
}

func TestNewTextEncoderByConfigJSON(t *testing.T) {
	enc := NewTextEncoderByConfig(&Config{Format: "json"})
	require.IsType(t, &textEncoder{}, enc)

	out := encodeOne(t, enc, "service ready")
	assert.Contains(t, out, `"message":"service ready"`)
}

func TestTextEncoderCloneKeepsType(t *testing.T) {
	enc := NewTextEncoderByConfig(&Config{Format: "text"})
	clone := enc.Clone()
	_, ok := clone.(*textEncoder)
	assert.True(t, ok)
}

func TestTextCoreWithAccumulatesFields(t *testing.T) {
	var sink bytes.Buffer
	core := NewTextCore(newZapTextEncoder(&Config{Format: "text"}),
		zapcore.AddSync(&sink), zapcore.InfoLevel)

	logger := zap.New(core).With(zap.Int64("nodeID", 7))
	logger.Info("registered")
	require.NoError(t, core.Sync())

	out := sink.String()
	assert.Contains(t, out, "registered")
	assert.Contains(t, out, "7")
}
