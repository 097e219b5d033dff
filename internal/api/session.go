package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tcu-diag/internal/scn"
)

type configBlock struct {
	id     uint8
	schema *scn.Schema
}

var configBlocks = map[string]configBlock{
	"core":  {scn.CoreConfigID, scn.TCMCoreSchema},
	"efuse": {scn.EfuseConfigID, scn.EfuseSchema},
}

func (s *Server) sessionBody() gin.H {
	session := s.deps.Session.Session()
	body := gin.H{
		"state":     session.State,
		"queue_len": s.deps.Session.QueueLen(),
	}
	if session.Reason != nil {
		body["reason"] = session.Reason.Error()
	}
	return body
}

// GET /api/session
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionBody())
}

// POST /api/session/connect
func (s *Server) connect(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Session.Connect(ctx); err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionBody())
}

// POST /api/session/disconnect
func (s *Server) disconnect(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Session.Disconnect(ctx); err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sessionBody())
}

// GET /api/ecu/identification
func (s *Server) getIdentification(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	ident, err := s.deps.Session.ReadIdentification(ctx)
	if err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ident)
}

func lookupBlock(c *gin.Context) (string, configBlock, bool) {
	name := c.Param("block")
	block, ok := configBlocks[name]
	if !ok {
		respondWithError(c, http.StatusNotFound, "unknown config block "+name)
	}
	return name, block, ok
}

func blockBody(name string, block configBlock, values scn.Values) gin.H {
	enums := map[string]string{}
	for _, f := range block.schema.Fields() {
		if n := f.EnumName(values[f.Name]); n != "" {
			enums[f.Name] = n
		}
	}
	return gin.H{
		"block":  name,
		"id":     block.id,
		"values": values,
		"enums":  enums,
	}
}

// GET /api/config/:block
func (s *Server) getConfigBlock(c *gin.Context) {
	name, block, ok := lookupBlock(c)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	values, err := s.deps.Session.ReadConfigBlock(ctx, block.id, block.schema)
	if err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, blockBody(name, block, values))
}

// PUT /api/config/:block with a JSON object of field values
func (s *Server) putConfigBlock(c *gin.Context) {
	name, block, ok := lookupBlock(c)
	if !ok {
		return
	}

	var values scn.Values
	if err := c.ShouldBindJSON(&values); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.deps.Session.WriteConfigBlock(ctx, block.id, block.schema, values); err != nil {
		respondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, blockBody(name, block, values))
}
