package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/storefront/auth"
	"github.com/pilab-dev/storefront/domain"
)

func TestPrintYAML_UsesJSONNamesInOrder(t *testing.T) {
	st := auth.State{
		IsLoggedIn: true,
		User:       &domain.User{ID: "42", Email: "a@b.com", FirstName: "Asha"},
	}

	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, st))
	out := buf.String()

	assert.Contains(t, out, "isLoggedIn: true\n")
	assert.Contains(t, out, "  email: a@b.com\n")
	assert.Contains(t, out, "  firstName: Asha\n")
	assert.NotContains(t, out, "{")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("isLoggedIn")), bytes.Index(buf.Bytes(), []byte("user:")))
}

func TestPrintYAML_KeepsStringTypes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printYAML(&buf, map[string]string{"id": "42", "flag": "true"}))

	assert.Contains(t, buf.String(), `id: "42"`)
	assert.Contains(t, buf.String(), `flag: "true"`)
}
