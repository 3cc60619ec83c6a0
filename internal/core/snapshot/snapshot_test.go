package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		Objects: []Object{
			{ID: "a", Type: KindRect, Left: 80, Top: 60, Width: 160, Height: 100, Fill: "#60a5fa", Selectable: true, Evented: true},
			{ID: "b", Type: KindPath, Path: []Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, Stroke: "#111", StrokeWidth: 2},
		},
	}
}

func TestEmpty_IsWellDefined(t *testing.T) {
	empty := Empty()
	require.False(t, empty.IsZero())

	doc, err := Decode(empty)
	require.NoError(t, err)
	assert.Empty(t, doc.Objects)
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Equal(t, DefaultBackground, doc.Background)
}

func TestCanonicalize_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := []byte(`{"objects":[{"type":"rect","id":"x","left":1,"top":2}],"version":1}`)
	b := []byte("{ \"version\": 1,\n \"objects\": [ {\"id\":\"x\", \"top\":2, \"left\":1, \"type\":\"rect\", \"scaleX\":1} ] }")

	sa, err := Canonicalize(a)
	require.NoError(t, err)
	sb, err := Canonicalize(b)
	require.NoError(t, err)
	assert.True(t, Equal(sa, sb))
	assert.Equal(t, sa.Digest(), sb.Digest())
}

func TestCanonicalize_EmptyObjectIsEmptyScene(t *testing.T) {
	s, err := Canonicalize([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Empty(), s)
}

func TestCanonicalize_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":     ``,
		"null":      `null`,
		"array":     `[]`,
		"garbage":   `{"objects":`,
		"no id":     `{"objects":[{"type":"rect"}]}`,
		"bad type":  `{"objects":[{"id":"a","type":"hexagon"}]}`,
		"duplicate": `{"objects":[{"id":"a","type":"rect"},{"id":"a","type":"circle"}]}`,
		"future":    `{"version":99}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Canonicalize([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	s, err := Encode(sampleDocument())
	require.NoError(t, err)

	doc, err := Decode(s)
	require.NoError(t, err)
	again, err := Encode(doc)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestSnapshot_MarshalJSONEmbedsObject(t *testing.T) {
	s, err := Encode(sampleDocument())
	require.NoError(t, err)

	raw, err := json.Marshal(struct {
		Canvas Snapshot `json:"canvas"`
	}{Canvas: s})
	require.NoError(t, err)

	var out struct {
		Canvas Document `json:"canvas"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Len(t, out.Canvas.Objects, 2)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := sampleDocument()
	clone := doc.Clone()
	clone.Objects[1].Path[0].X = 42
	clone.Objects[0].Fill = "red"

	assert.Equal(t, 1.0, doc.Objects[1].Path[0].X)
	assert.Equal(t, "#60a5fa", doc.Objects[0].Fill)
}
