package resources

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/registry"
)

func setup(t *testing.T) (*registry.Registry, *instrumentation.Instrumenter, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	inst, err := instrumentation.NewInstrumenter(tp, nil, instrumentation.WithLogger(slogt.New(t)))
	require.NoError(t, err)

	reg := registry.New(nil, inst)
	require.NoError(t, RegisterResources(reg))
	return reg, inst, exporter
}

func TestWelcomeResource(t *testing.T) {
	reg, inst, exporter := setup(t)

	contents, err := reg.ReadResource(context.Background(), WelcomeURI)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, WelcomeText, text.Text)
	assert.Equal(t, "text/plain", text.MIMEType)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "resource."+WelcomeURI, spans[0].Name)

	var uri string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "resource.uri" {
			uri = kv.Value.AsString()
		}
	}
	assert.Equal(t, WelcomeURI, uri)

	assert.Equal(t, int64(1), inst.Counters().Value("mcp_resource_reads_total", map[string]string{"resource": WelcomeURI}))
}

func TestHandlersResource(t *testing.T) {
	reg, _, _ := setup(t)

	contents, err := reg.ReadResource(context.Background(), HandlersURI)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	listing := gjson.Parse(contents[0].(mcp.TextResourceContents).Text)
	require.True(t, listing.IsArray())

	var uris []string
	for _, e := range listing.Array() {
		assert.Equal(t, "resource", e.Get("kind").String())
		assert.True(t, e.Get("has_extractor").Bool())
		uris = append(uris, e.Get("name").String())
	}
	assert.Equal(t, []string{HandlersURI, WelcomeURI}, uris)
}

func TestRegisterResources_Duplicate(t *testing.T) {
	reg, _, _ := setup(t)
	assert.ErrorIs(t, RegisterResources(reg), registry.ErrDuplicate)
}
