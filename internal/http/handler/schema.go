package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"healthbridge.app/syncer/internal/model"
)

// SchemaHandler publishes the canonical data point schema for downstream consumers.
type SchemaHandler struct {
	once   sync.Once
	schema *jsonschema.Schema
}

func NewSchemaHandler() *SchemaHandler {
	return &SchemaHandler{}
}

func (h *SchemaHandler) DataPoint(c *gin.Context) {
	h.once.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		h.schema = reflector.Reflect(&model.HealthDataPoint{})
		h.schema.Title = "HealthDataPoint"
	})
	c.JSON(http.StatusOK, h.schema)
}
