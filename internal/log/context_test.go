// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWithComponentFromContext_CorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := base.WithContext(context.Background())
	ctx = ContextWithRequestID(ctx, "req-42")
	ctx = ContextWithProfileID(ctx, "prof-7")

	lg := WithComponentFromContext(ctx, "guide")
	lg.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"component":"guide"`)
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"profile_id":"prof-7"`)
}

func TestWithComponentFromContext_NoCorrelation(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	ctx := base.WithContext(context.Background())

	lg := WithComponentFromContext(ctx, "guide")
	lg.Info().Msg("hello")

	out := buf.String()
	assert.NotContains(t, out, "request_id")
	assert.NotContains(t, out, "profile_id")
}
