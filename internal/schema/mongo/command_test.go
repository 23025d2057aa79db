package mongo

import (
	"testing"

	"bsonschema/internal/schema/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var userValidator = types.Schema{
	"required": []any{"name"},
	"bsonType": "object",
	"properties": map[string]any{
		"name": types.Schema{"bsonType": "string", "minLength": float64(2)},
		"_id":  map[string]any{"bsonType": "objectId"},
		"tags": types.Schema{"bsonType": []any{"array", "null"}, "items": types.Schema{"bsonType": "string"}},
	},
}

func TestDocument_Order(t *testing.T) {
	doc := Document(userValidator)
	require.Len(t, doc, 3)
	assert.Equal(t, "bsonType", doc[0].Key)
	assert.Equal(t, "properties", doc[1].Key)
	assert.Equal(t, "required", doc[2].Key)

	props := doc[1].Value.(bson.D)
	assert.Equal(t, []string{"_id", "name", "tags"}, []string{props[0].Key, props[1].Key, props[2].Key})

	name := props[1].Value.(bson.D)
	assert.Equal(t, bson.D{{Key: "bsonType", Value: "string"}, {Key: "minLength", Value: int32(2)}}, name)
	assert.Equal(t, bson.A{"name"}, doc[2].Value)
}

func TestCreateCollectionCommand(t *testing.T) {
	cmd, err := CreateCollectionCommand("users", userValidator, CommandOptions{Level: LevelStrict, Action: ActionError})
	require.NoError(t, err)

	require.Len(t, cmd, 4)
	assert.Equal(t, bson.E{Key: "create", Value: "users"}, cmd[0])
	assert.Equal(t, "validator", cmd[1].Key)
	assert.Equal(t, bson.E{Key: "validationLevel", Value: "strict"}, cmd[2])
	assert.Equal(t, bson.E{Key: "validationAction", Value: "error"}, cmd[3])

	data, err := ExtJSON(cmd, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"create": "users",
		"validator": {"$jsonSchema": {
			"bsonType": "object",
			"properties": {
				"_id": {"bsonType": "objectId"},
				"name": {"bsonType": "string", "minLength": 2},
				"tags": {"bsonType": ["array", "null"], "items": {"bsonType": "string"}}
			},
			"required": ["name"]
		}},
		"validationLevel": "strict",
		"validationAction": "error"
	}`, string(data))

	canonical, err := ExtJSON(cmd, true)
	require.NoError(t, err)
	assert.Contains(t, string(canonical), `"$numberInt":"2"`)
}

func TestCollModCommand(t *testing.T) {
	cmd, err := CollModCommand("users", types.Schema{"bsonType": "object"}, CommandOptions{})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "collMod", Value: "users"},
		{Key: "validator", Value: bson.D{{Key: "$jsonSchema", Value: bson.D{{Key: "bsonType", Value: "object"}}}}},
	}, cmd)
}

func TestCommand_InvalidOptions(t *testing.T) {
	_, err := CreateCollectionCommand("users", types.Schema{}, CommandOptions{Level: "loose"})
	assert.Error(t, err)
	_, err = CollModCommand("users", types.Schema{}, CommandOptions{Action: "ignore"})
	assert.Error(t, err)
	_, err = CreateCollectionCommand("", types.Schema{}, CommandOptions{})
	assert.Error(t, err)
}
