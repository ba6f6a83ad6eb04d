package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *Definition {
	return &Definition{Pages: []*Page{
		{Type: "page", Number: 1, StateName: "personal", Name: "Personal", Elements: []*UIElement{
			{Type: "container", Elements: []*UIElement{{Name: "firstName", Type: "text"}}},
		}},
		{Type: "page", Number: 2, StateName: "store_info", Name: "Store Info", Elements: []*UIElement{
			{Name: "mobileAppName", Type: "text"},
		}},
	}}
}

func TestDefinitionLookup(t *testing.T) {
	def := testDefinition()

	p, ok := def.Page("store_info")
	require.True(t, ok)
	assert.Equal(t, 2, p.Number)

	_, ok = def.Page("missing")
	assert.False(t, ok)

	el, ok := def.Element("firstName")
	require.True(t, ok)
	assert.Equal(t, "text", el.Type)

	_, ok = def.Element("nope")
	assert.False(t, ok)
}

func TestUIElementWalkStops(t *testing.T) {
	root := &UIElement{Name: "root", Elements: []*UIElement{
		{Name: "a", Elements: []*UIElement{{Name: "a1"}}},
		{Name: "b"},
	}}

	var visited []string
	root.Walk(func(e *UIElement) bool {
		visited = append(visited, e.Name)
		return e.Name != "a"
	})
	assert.Equal(t, []string{"root", "a", "b"}, visited)
}

func TestNewUIState(t *testing.T) {
	state := NewUIState(testDefinition())

	require.Len(t, state.Steps, 2)
	assert.Equal(t, "personal", state.Steps[0].Name)
	assert.Equal(t, StepIdle, state.Steps[1].Status)

	cur, ok := state.Current()
	require.True(t, ok)
	assert.Equal(t, "personal", cur.Name)

	assert.Empty(t, NewUIState(nil).Steps)
}

func TestUIStateCopyIsDeep(t *testing.T) {
	state := UIState{Steps: []Step{{Name: "a", Data: map[string]any{"k": "v"}}}}
	cp := state.Copy()
	cp.Steps[0].Data["k"] = "changed"
	cp.Steps[0].Status = StepCompleted

	assert.Equal(t, "v", state.Steps[0].Data["k"])
	assert.Equal(t, StepStatus(""), state.Steps[0].Status)
}

func TestUIStateAsMap(t *testing.T) {
	state := UIState{CurrentStep: 1, Steps: []Step{
		{Name: "a", Status: StepCompleted},
		{Name: "b", Status: StepInvalid, Reason: "bad"},
	}}
	m := state.AsMap()

	assert.Equal(t, 1.0, m["currentStep"])
	assert.Equal(t, "b", m["current"])
	steps := m["steps"].([]any)
	assert.Equal(t, "bad", steps[1].(map[string]any)["reason"])
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "api", Action{Type: "api"}.String())
	assert.Equal(t, "api#3", Action{Type: "api", Seq: 3}.String())
	assert.Equal(t, "NEXT", Action{Payload: map[string]any{"eventName": "NEXT"}}.PayloadString("eventName"))
	assert.Equal(t, "", Action{Payload: map[string]any{"n": 1}}.PayloadString("n"))
}

func TestDefinitionCountElements(t *testing.T) {
	assert.Equal(t, 3, testDefinition().CountElements())
	assert.Equal(t, 0, (&Definition{}).CountElements())
}
