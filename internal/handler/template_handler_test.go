package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/dto"
	"github.com/noah-isme/checkride-sync/internal/library"
)

func TestTemplateHandlerList(t *testing.T) {
	lib, err := library.Default()
	require.NoError(t, err)
	handler := NewTemplateHandler(lib)

	c, w := newContext(http.MethodGet, "/templates?category=instrument", nil, instructorClaims)
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []dto.TemplateSummary  `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	for _, tpl := range body.Data {
		assert.Equal(t, "IFR", tpl.Category)
	}
	assert.Equal(t, lib.Version(), body.Meta["libraryVersion"])

	c, w = newContext(http.MethodGet, "/templates", nil, instructorClaims)
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, len(lib.Templates()))
}

func TestTemplateHandlerGet(t *testing.T) {
	lib, err := library.Default()
	require.NoError(t, err)
	handler := NewTemplateHandler(lib)

	c, w := newContext(http.MethodGet, "/templates/ppl_p1_l1", nil, instructorClaims)
	c.Params = gin.Params{{Key: "id", Value: "ppl_p1_l1"}}
	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "7d1c2b0e-ppl-p1-l1")
	assert.Contains(t, w.Body.String(), "Preflight inspection")

	c, w = newContext(http.MethodGet, "/templates/unknown", nil, instructorClaims)
	c.Params = gin.Params{{Key: "id", Value: "unknown"}}
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
