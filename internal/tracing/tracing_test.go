package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "launch")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{
		ServiceName:    "modelpool-test",
		ServiceVersion: "0.0.1",
		Enabled:        true,
		Writer:         &buf,
	})
	require.NoError(t, err)

	ctx, parent := p.Tracer().Start(context.Background(), "launch")
	_, child := p.Tracer().Start(ctx, "prepare")
	child.End()
	parent.End()

	require.NoError(t, p.Shutdown(context.Background()))

	dec := json.NewDecoder(&buf)
	var names []string
	for dec.More() {
		var span struct {
			Name string
		}
		require.NoError(t, dec.Decode(&span))
		names = append(names, span.Name)
	}
	assert.ElementsMatch(t, []string{"launch", "prepare"}, names)
}
