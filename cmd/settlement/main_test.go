package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["reconcile"])

	reconcile, _, err := root.Find([]string{"reconcile"})
	require.NoError(t, err)
	job, err := reconcile.Flags().GetString("job")
	require.NoError(t, err)
	assert.Equal(t, "all", job)
}
