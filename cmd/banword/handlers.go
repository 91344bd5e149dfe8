package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bluesky-social/banword/automod"
	"github.com/bluesky-social/banword/automod/keyword"
	"github.com/bluesky-social/banword/automod/scorestore"

	"github.com/labstack/echo/v4"
)

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type DetectRequest struct {
	Scope   string `json:"scope"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type ScoreBody struct {
	Scope   string `json:"scope"`
	Subject string `json:"subject"`
	Score   int    `json:"score"`
}

type PhraseRequest struct {
	Phrase string `json:"phrase"`
	Weight int    `json:"weight"`
}

type PhraseList struct {
	Scope   string           `json:"scope"`
	Phrases []keyword.Phrase `json:"phrases"`
}

type ScopeStatus struct {
	Scope   string `json:"scope"`
	Enabled bool   `json:"enabled"`
}

// maps engine errors to HTTP status codes
func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := ""
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		}
	case errors.Is(err, keyword.ErrInvalidWeight), errors.Is(err, keyword.ErrEmptyPhrase), errors.Is(err, scorestore.ErrNegativeDelta):
		code = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, keyword.ErrNotFound):
		code = http.StatusNotFound
		msg = err.Error()
	}
	if code >= 500 {
		srv.logger.Warn("banword-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, ErrorBody{Error: http.StatusText(code), Message: msg}); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "banword"})
}

func (srv *Server) HandleProcessMessage(c echo.Context) error {
	var msg automod.Message
	if err := c.Bind(&msg); err != nil {
		return err
	}
	if msg.Scope == "" || msg.Subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope and subject are required")
	}
	res, err := srv.engine.ProcessMessage(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleDetect(c echo.Context) error {
	var req DetectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope is required")
	}
	out := srv.engine.Detect(c.Request().Context(), req.Text, req.Scope, req.Subject)
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleGetScore(c echo.Context) error {
	scope, subject := c.Param("scope"), c.Param("subject")
	score, err := srv.engine.GetScore(c.Request().Context(), scope, subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ScoreBody{Scope: scope, Subject: subject, Score: score})
}

func (srv *Server) HandleResetScore(c echo.Context) error {
	scope, subject := c.Param("scope"), c.Param("subject")
	if err := srv.engine.ResetScore(c.Request().Context(), scope, subject); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ScoreBody{Scope: scope, Subject: subject, Score: 0})
}

func (srv *Server) HandleListPhrases(c echo.Context) error {
	scope := c.Param("scope")
	return c.JSON(http.StatusOK, PhraseList{Scope: scope, Phrases: srv.engine.ListPhrases(scope)})
}

func (srv *Server) HandleSetPhrase(c echo.Context) error {
	var req PhraseRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	p, err := srv.engine.SetPhrase(c.Request().Context(), c.Param("scope"), req.Phrase, req.Weight)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// phrase is passed as a query parameter, since phrases may contain slashes
func (srv *Server) HandleRemovePhrase(c echo.Context) error {
	phrase := c.QueryParam("phrase")
	if strings.TrimSpace(phrase) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phrase query parameter is required")
	}
	if err := srv.engine.RemovePhrase(c.Request().Context(), c.Param("scope"), phrase); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (srv *Server) HandleGetScopeEnabled(c echo.Context) error {
	scope := c.Param("scope")
	enabled, err := srv.engine.ScopeEnabled(c.Request().Context(), scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ScopeStatus{Scope: scope, Enabled: enabled})
}

func (srv *Server) HandleSetScopeEnabled(c echo.Context) error {
	var req ScopeStatus
	if err := c.Bind(&req); err != nil {
		return err
	}
	scope := c.Param("scope")
	if err := srv.engine.SetScopeEnabled(c.Request().Context(), scope, req.Enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ScopeStatus{Scope: scope, Enabled: req.Enabled})
}
