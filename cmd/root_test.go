package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCmd_FlagDefaults(t *testing.T) {
	flags := runCmd.Flags()

	for flag, def := range map[string]string{
		"transport": "loopback",
		"uri":       "loopback://",
		"uid":       "0",
		"stepsize":  "0.0005",
		"endtime":   "0",
		"timeout":   "60",
		"log":       "info",
	} {
		f := flags.Lookup(flag)
		require.NotNil(t, f, "flag %q must be registered", flag)
		assert.Equal(t, def, f.DefValue, "flag %q default", flag)
	}
}

func TestRunCmd_NameRequired(t *testing.T) {
	f := runCmd.Flags().Lookup("name")
	require.NotNil(t, f)
	assert.Equal(t, "true", f.Annotations["cobra_annotation_bash_completion_one_required_flag"][0])
}

func TestRootCmd_HasRunCommand(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, runCmd, cmd)
}
