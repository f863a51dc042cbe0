package main

import (
	"testing"

	"github.com/bhoriuchi/gqlws/logger"
	"github.com/bhoriuchi/gqlws/metadata"
	"github.com/graphql-go/graphql"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	schema, err := buildSchema(logger.NewNoopLogger())
	require.NoError(t, err)

	ctx := metadata.New()
	metadata.Set(ctx, metadata.ConnectionIDKey, "abc")

	res := graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: "{ hello whoami }",
		Context:       ctx,
	})
	require.Empty(t, res.Errors)
	assert.Equal(t, map[string]interface{}{"hello": "world", "whoami": "abc"}, res.Data)
}

func TestDecodeObject(t *testing.T) {
	obj, err := decodeObject("variables", "")
	assert.NoError(t, err)
	assert.Nil(t, obj)

	obj, err = decodeObject("variables", `{"count":2}`)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, obj["count"])

	_, err = decodeObject("variables", `[1]`)
	assert.ErrorContains(t, err, "invalid variables")
}

func TestNewLogger(t *testing.T) {
	defer viper.Reset()

	viper.Set("log.level", "trace")
	l, logFunc, err := newLogger()
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.NotNil(t, logFunc)

	viper.Set("log.level", "loud")
	_, _, err = newLogger()
	assert.Error(t, err)
}
