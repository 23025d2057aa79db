package rest

import (
	"errors"
	"log/slog"
	"net/http"

	"bsonschema/internal/schema"
	"bsonschema/internal/schema/mongo"
	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

var store *schema.Store
var kvValidators, kvConfig nats.KeyValue

// defaultSchemaType is assumed when a request names no schema type
const defaultSchemaType = types.JSON

// Init initializes the REST handlers with a validator store. Nil buckets
// are replaced by in-memory ones. reg resolves custom types in DEF schemas;
// nil means the built-in MongoDB types.
func Init(validators, config nats.KeyValue, reg *typereg.Registry) {
	slog.Info("Initializing validator store handlers")

	if validators == nil {
		slog.Warn("Validator storage not available, using in-memory fallback")
		validators = NewMemoryKeyValue("VALIDATORS")
	} else {
		slog.Info("Using external validator storage", "bucket", validators.Bucket())
	}

	if config == nil {
		slog.Warn("Config storage not available, using in-memory fallback")
		config = NewMemoryKeyValue("CONFIG")
	} else {
		slog.Info("Using external config storage", "bucket", config.Bucket())
	}

	if store != nil {
		store.Close()
	}
	kvValidators = validators
	kvConfig = config
	store = schema.New(kvValidators, kvConfig, reg)

	slog.Info("Validator store handlers initialized successfully")
}

// Store returns the store serving the handlers
func Store() *schema.Store {
	return store
}

// ValidatorRecord represents a stored validator version
type ValidatorRecord struct {
	Collection string       `json:"collection"`
	Version    int          `json:"version"`
	ID         int          `json:"id"`
	SchemaType string       `json:"schemaType"`
	Schema     string       `json:"schema"`
	Validator  types.Schema `json:"validator"`
}

// SchemaRequest is the payload carrying a source schema
type SchemaRequest struct {
	Schema     string `json:"schema" binding:"required"`
	SchemaType string `json:"schemaType,omitempty"`
}

func (r SchemaRequest) schemaType() types.SchemaType {
	if r.SchemaType == "" {
		return defaultSchemaType
	}
	return types.SchemaType(r.SchemaType)
}

// ValidatorResponse returns the validator ID
type ValidatorResponse struct {
	ID int `json:"id"`
}

// CompatibilityResponse indicates compatibility result
type CompatibilityResponse struct {
	IsCompatible bool   `json:"is_compatible"`
	Reason       string `json:"reason,omitempty"`
}

// ConfigRequest updates compatibility
type ConfigRequest struct {
	Compatibility string `json:"compatibility" binding:"required"`
}

// ConfigResponse returns compatibility
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ErrorResponse represents an error message
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// SetupRouter creates and configures a Gin router with all validator routes
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.bsonschema.v1+json")
		c.Next()
	})
	r.Use(requireStore)

	r.POST("/convert", convertSchema)

	r.GET("/collections", listCollections)
	collectionGroup := r.Group("/collections/:collection")
	{
		collectionGroup.GET("/versions", listVersions)
		collectionGroup.POST("/versions", registerValidator)
		collectionGroup.GET("/versions/:version", getValidator)
		collectionGroup.DELETE("/versions/:version", deleteValidatorVersion)
		collectionGroup.GET("/command", getCommand)
		collectionGroup.DELETE("", deleteCollection)
		collectionGroup.POST("", lookupValidator)
	}

	r.GET("/validators/ids/:id", getValidatorByID)

	r.POST("/compatibility/collections/:collection/versions/:version", checkCompatibility)
	r.POST("/compatibility/collections/:collection/versions", checkCompatibilityForCollection)

	r.GET("/config", getGlobalConfig)
	r.PUT("/config", updateGlobalConfig)
	r.GET("/config/:collection", getCollectionConfig)
	r.PUT("/config/:collection", updateCollectionConfig)

	return r
}

// Routes returns the router as an http.Handler
func Routes() http.Handler {
	return SetupRouter()
}

func requireStore(c *gin.Context) {
	if store == nil {
		slog.Error("Storage not available", "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: 50300,
			Message:   "storage backend unavailable",
		})
		return
	}
	c.Next()
}

// respondError maps store errors to HTTP statuses
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, 50000
	switch {
	case errors.Is(err, schema.ErrNoVersions):
		status, code = http.StatusNotFound, 40401
	case errors.Is(err, schema.ErrValidatorNotFound):
		status, code = http.StatusNotFound, 40403
	case errors.Is(err, schema.ErrIncompatible):
		status, code = http.StatusConflict, 40901
	case errors.Is(err, schema.ErrInvalidSchema):
		status, code = http.StatusUnprocessableEntity, 42201
	case errors.Is(err, schema.ErrInvalidArgument):
		status, code = http.StatusUnprocessableEntity, 42202
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{ErrorCode: code, Message: err.Error()})
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorCode: 40001,
			Message:   "invalid JSON: " + err.Error(),
		})
		return false
	}
	return true
}

func record(v *types.Validator) ValidatorRecord {
	return ValidatorRecord{
		Collection: v.Collection,
		Version:    v.Version,
		ID:         v.ID,
		SchemaType: string(v.Type),
		Schema:     v.Source,
		Validator:  v.Native,
	}
}

func convertSchema(c *gin.Context) {
	var req SchemaRequest
	if !bindJSON(c, &req) {
		return
	}

	t, err := store.Translate(req.Schema, req.schemaType())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func listCollections(c *gin.Context) {
	collections, err := store.GetCollections()
	if err != nil {
		respondError(c, err)
		return
	}
	slog.Debug("Got collections", "count", len(collections))
	c.JSON(http.StatusOK, collections)
}

func listVersions(c *gin.Context) {
	versions, err := store.GetVersions(c.Param("collection"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func registerValidator(c *gin.Context) {
	collection := c.Param("collection")

	var req SchemaRequest
	if !bindJSON(c, &req) {
		return
	}

	slog.Debug("Registering validator", "collection", collection, "schemaType", req.schemaType())
	id, err := store.RegisterValidator(collection, req.Schema, req.schemaType())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ValidatorResponse{ID: id})
}

func getValidator(c *gin.Context) {
	v, err := store.GetValidatorByCollectionVersion(c.Param("collection"), c.Param("version"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record(v))
}

func deleteValidatorVersion(c *gin.Context) {
	version, err := store.DeleteValidatorVersion(c.Param("collection"), c.Param("version"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func deleteCollection(c *gin.Context) {
	versions, err := store.DeleteCollection(c.Param("collection"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func lookupValidator(c *gin.Context) {
	var req SchemaRequest
	if !bindJSON(c, &req) {
		return
	}

	v, err := store.LookupValidator(c.Param("collection"), req.Schema, req.schemaType())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record(v))
}

// getCommand renders the MongoDB command installing a stored validator.
// Query parameters: version (default latest), mode (create or collMod),
// level, action and canonical.
func getCommand(c *gin.Context) {
	collection := c.Param("collection")

	v, err := store.GetValidatorByCollectionVersion(collection, c.DefaultQuery("version", schema.Latest))
	if err != nil {
		respondError(c, err)
		return
	}

	opts := mongo.CommandOptions{
		Level:  mongo.ValidationLevel(c.Query("level")),
		Action: mongo.ValidationAction(c.Query("action")),
	}
	build := mongo.CreateCollectionCommand
	switch mode := c.DefaultQuery("mode", "create"); mode {
	case "create":
	case "collMod":
		build = mongo.CollModCommand
	default:
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: 42202, Message: "invalid mode: " + mode})
		return
	}

	cmd, err := build(collection, v.Native, opts)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: 42202, Message: err.Error()})
		return
	}
	data, err := mongo.ExtJSON(cmd, c.Query("canonical") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", "application/json")
	c.Data(http.StatusOK, "application/json", data)
}

func getValidatorByID(c *gin.Context) {
	v, err := store.GetValidatorByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validator": v.Native})
}

func checkCompatibility(c *gin.Context) {
	collection := c.Param("collection")

	var req SchemaRequest
	if !bindJSON(c, &req) {
		return
	}

	old, err := store.GetValidatorByCollectionVersion(collection, c.Param("version"))
	if err != nil {
		respondError(c, err)
		return
	}
	native, err := store.Generate(req.Schema, req.schemaType())
	if err != nil {
		respondError(c, err)
		return
	}
	level, err := store.GetCompatibilityLevel(collection)
	if err != nil {
		respondError(c, err)
		return
	}

	err = schema.CheckValidators(old.Native, native, level)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: true})
	case errors.Is(err, schema.ErrIncompatible):
		c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: false, Reason: err.Error()})
	default:
		respondError(c, err)
	}
}

func checkCompatibilityForCollection(c *gin.Context) {
	var req SchemaRequest
	if !bindJSON(c, &req) {
		return
	}

	compatible, err := store.CheckCompatibility(c.Param("collection"), req.Schema, req.schemaType(), "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: compatible})
}

func getGlobalConfig(c *gin.Context) {
	getConfig(c, schema.GlobalConfig)
}

func updateGlobalConfig(c *gin.Context) {
	updateConfig(c, schema.GlobalConfig)
}

func getCollectionConfig(c *gin.Context) {
	getConfig(c, c.Param("collection"))
}

func updateCollectionConfig(c *gin.Context) {
	updateConfig(c, c.Param("collection"))
}

func getConfig(c *gin.Context, collection string) {
	level, err := store.GetCompatibilityLevel(collection)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(level)})
}

func updateConfig(c *gin.Context, collection string) {
	var req ConfigRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := store.SetCompatibilityLevel(collection, types.CompatibilityLevel(req.Compatibility)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}
