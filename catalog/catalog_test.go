package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credguard/agent-vault/models"
)

func TestCatalog_GetAndList(t *testing.T) {
	c := Default()

	def, err := c.Get("smtp")
	require.NoError(t, err)
	assert.Equal(t, models.AuthKindManual, def.AuthKind)
	assert.Len(t, def.RequiredFields, 3)

	_, err = c.Get("unknown_x")
	assert.ErrorIs(t, err, models.ErrNotFound)

	defs := c.List()
	require.NotEmpty(t, defs)

	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].Slug, defs[i].Slug)
	}
}

func TestValidateManual(t *testing.T) {
	c := Default()

	def, err := c.Get("smtp")
	require.NoError(t, err)

	err = ValidateManual(def, models.SecretPayload{
		"host":     "smtp.example.com",
		"username": "mailer",
		"password": "hunter2",
		"port":     "587", // extra fields are fine
	})
	assert.NoError(t, err)

	err = ValidateManual(def, models.SecretPayload{"host": "smtp.example.com", "password": ""})

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.ElementsMatch(t, []string{"username", "password"}, validationErr.Fields)
}
