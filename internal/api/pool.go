package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/poolmgr/internal/pool"
	"github.com/opensandbox/poolmgr/pkg/types"
)

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// poolError maps a pool manager error to a response. Backend failures are
// 502 so the dispatcher can tell them apart from its own mistakes.
func poolError(c echo.Context, err error) error {
	var (
		perr *pool.ProvisioningError
		terr *pool.TeardownError
	)
	switch {
	case errors.Is(err, pool.ErrUnsupported):
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": err.Error()})
	case errors.Is(err, pool.ErrInvalidLabel):
		return badRequest(c, err.Error())
	case errors.Is(err, pool.ErrNoNetwork):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &terr):
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error":    err.Error(),
			"step":     terr.Step,
			"resource": terr.ResourceID,
		})
	case errors.As(err, &perr):
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) scaleOut(c echo.Context) error {
	return s.scale(c, s.pool.ScaleOut)
}

func (s *Server) scaleIn(c echo.Context) error {
	return s.scale(c, s.pool.ScaleIn)
}

func (s *Server) scale(c echo.Context, op func(ctx context.Context, n int) (int, error)) error {
	var req types.ScaleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Blocks <= 0 {
		return badRequest(c, "blocks must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	units, err := op(c.Request().Context(), req.Blocks)
	if err != nil {
		return poolError(c, err)
	}
	return c.JSON(http.StatusOK, types.ScaleResponse{
		Units:     units,
		Blocksize: s.pool.CurrentBlocksize(),
	})
}

func (s *Server) submit(c echo.Context) error {
	var req types.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Command == "" {
		return badRequest(c, "command is required")
	}
	if req.Blocksize <= 0 {
		return badRequest(c, "blocksize must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.pool.Submit(c.Request().Context(), req.Command, req.Blocksize, req.Label)
	if err != nil {
		return poolError(c, err)
	}
	return c.JSON(http.StatusOK, types.SubmitResponse{ID: id})
}

func (s *Server) cancel(c echo.Context) error {
	var req types.IDsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.pool.Cancel(c.Request().Context(), req.IDs)
	if err != nil {
		return poolError(c, err)
	}
	return c.JSON(http.StatusOK, types.CancelResponse{Cancelled: flags})
}

func (s *Server) status(c echo.Context) error {
	var req types.IDsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses, err := s.pool.Status(c.Request().Context(), req.IDs)
	if err != nil {
		return poolError(c, err)
	}
	return c.JSON(http.StatusOK, types.StatusResponse{Statuses: statuses})
}

func (s *Server) summary(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, err := s.pool.Summary(c.Request().Context())
	if err != nil {
		return poolError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) teardown(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pool.Teardown(c.Request().Context()); err != nil {
		return poolError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
