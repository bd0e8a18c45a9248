package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommaSeparated(t *testing.T) {
	assert.Nil(t, ParseCommaSeparated(""))
	assert.Equal(t, []string{"ajio", "myntra"}, ParseCommaSeparated("ajio, myntra"))
	assert.Equal(t, []string{"ajio"}, ParseCommaSeparated(" ajio ,, "))
}

func TestRedacted(t *testing.T) {
	var c Config
	c.Http.AdminAPIKey = "admin-key"
	c.Auth.JWTSecret = "secret"
	c.DB.Url = "postgres://u:p@localhost/db"
	c.Store.Backend = "postgres"

	r := redacted(c)

	assert.Equal(t, "****", r.Http.AdminAPIKey)
	assert.Equal(t, "****", r.Auth.JWTSecret)
	assert.Equal(t, "****", r.DB.Url)
	assert.Equal(t, "postgres", r.Store.Backend)
	assert.Equal(t, "admin-key", c.Http.AdminAPIKey)

	var empty Config
	assert.Empty(t, redacted(empty).Auth.JWTSecret)
}
