package tool_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/gt"
)

func TestBuiltin(t *testing.T) {
	r := tool.Builtin()

	defs := r.List()
	gt.A(t, defs).Length(4)
	gt.Equal(t, defs[0].Name, "clone-shoot")

	d, err := r.Get("clone-shoot")
	gt.NoError(t, err)
	gt.Equal(t, d.MaxHistory, 15)
	gt.Equal(t, d.HistoryNamespace(), "clone-shoot")

	_, err = r.Get("unknown")
	gt.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`
tools:
  - name: studio
    namespace: studio-v2
    max_history: 5
    mode: fanout
    slots:
      - name: product
        required: true
    variants:
      - tag: white
        prompt: "White background. {{.Prompt}}"
        slots: [product]
  - name: sketch
    max_history: 10
    mode: fanout
    slots:
      - name: drawing
        required: true
    variants:
      - tag: render
        prompt: "Render the sketch"
        slots: [drawing]
`), 0o600))

	r := tool.Builtin()
	gt.NoError(t, r.LoadFile(path))
	gt.A(t, r.List()).Length(5)

	studio, err := r.Get("studio")
	gt.NoError(t, err)
	gt.Equal(t, studio.MaxHistory, 5)
	gt.Equal(t, studio.HistoryNamespace(), "studio-v2")
	gt.Equal(t, studio.Parallelism, 4)

	_, err = r.Get("sketch")
	gt.NoError(t, err)
}

func TestLoadFileInvalid(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.yaml")
	gt.NoError(t, os.WriteFile(broken, []byte("tools: [::"), 0o600))
	gt.Error(t, tool.Builtin().LoadFile(broken))

	invalid := filepath.Join(dir, "invalid.yaml")
	gt.NoError(t, os.WriteFile(invalid, []byte("tools:\n  - name: x\n    max_history: 0\n"), 0o600))
	gt.Error(t, tool.Builtin().LoadFile(invalid))

	gt.Error(t, tool.Builtin().LoadFile(filepath.Join(dir, "missing.yaml")))
	gt.NoError(t, tool.Builtin().LoadFile(""))
}
