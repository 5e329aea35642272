package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesTypedValues(t *testing.T) {
	Reset()
	path := filepath.Join(t.TempDir(), "options.txt")
	body := `# run options
cpuct: 1.5
selfplay_nodes: 512   # nodes per action
model_path: /tmp/model.bin

not a config line
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, Load(path))

	require.Equal(t, float32(1.5), Float("cpuct", 1.0))
	require.Equal(t, 512, Int("selfplay_nodes", 64))
	require.Equal(t, "/tmp/model.bin", Str("model_path", ""))
}

func TestDefaultsWhenUnsetOrMalformed(t *testing.T) {
	Reset()
	SetStr("selfplay_batch", "banana")

	require.Equal(t, 16, Int("selfplay_batch", 16))
	require.Equal(t, float32(0.05), Float("mcts_noise_weight", 0.05))
	require.Equal(t, "default", Str("missing", "default"))
}

func TestLoadRejectsEmptyValue(t *testing.T) {
	Reset()
	path := filepath.Join(t.TempDir(), "options.txt")
	require.NoError(t, os.WriteFile(path, []byte("cpuct:\n"), 0o644))
	require.Error(t, Load(path))
}

func TestWriteRoundTrip(t *testing.T) {
	Reset()
	SetInt("training_epochs", 8)
	SetFloat("cpuct", 1.25)

	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, Write(path))

	Reset()
	require.NoError(t, Load(path))
	require.Equal(t, 8, Int("training_epochs", 0))
	require.Equal(t, float32(1.25), Float("cpuct", 0))
}
