package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"serve", "query", "nearby", "reference"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "cropprice", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestQueryCommand_Flags(t *testing.T) {
	for _, name := range []string{"lat", "lon", "crop", "radius", "strategy"} {
		assert.NotNil(t, queryCmd.Flags().Lookup(name), "query should have --%s flag", name)
	}
	for _, name := range []string{"lat", "lon", "crop"} {
		flag := queryCmd.Flags().Lookup(name)
		require.NotNil(t, flag)
		assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"],
			"--%s should be required", name)
	}
}

func TestNearbyCommand_Flags(t *testing.T) {
	flag := nearbyCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "nearby command should have --limit flag")
	assert.Equal(t, "10", flag.DefValue)
	assert.NotNil(t, nearbyCmd.Flags().Lookup("radius"))
}

func TestReferenceCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range referenceCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["import"], "reference should have subcommand import")

	flag := referenceImportCmd.Flags().Lookup("table")
	require.NotNil(t, flag)
	assert.Equal(t, "reference_locations", flag.DefValue)
	assert.NotNil(t, referenceImportCmd.Flags().Lookup("to"))
	assert.NotNil(t, referenceImportCmd.Flags().Lookup("append"))
}
