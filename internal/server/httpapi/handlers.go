package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/server/models"
	"github.com/dmitrijs2005/docseal/internal/server/services"
)

func badBody() error {
	return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
}

func (s *HTTPServer) createRequest(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	out, err := s.signing.Create(c.Request().Context(), req.toInput())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newCreateResponse(out))
}

func (s *HTTPServer) getRequest(c echo.Context) error {
	r, err := s.signing.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newRequestResponse(r))
}

func (s *HTTPServer) validateToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	info, err := s.signing.ValidateToken(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newValidateResponse(info))
}

func (s *HTTPServer) sign(c echo.Context) error {
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if !req.Consent.Accepted {
		verr := common.NewValidationError()
		verr.Add("consent.accepted", "must be true")
		return verr
	}

	ua := req.Consent.UserAgent
	if ua == "" {
		ua = c.Request().UserAgent()
	}
	err := s.signing.Sign(c.Request().Context(), services.SignInput{
		Token:                 req.Token,
		SignatureImage:        req.SignatureImage,
		InitialsImage:         req.InitialsImage,
		BoxValues:             req.BoxValues,
		CertificateThumbprint: req.CertificateThumbprint,
		Consent: models.Consent{
			IPAddress:   c.RealIP(),
			UserAgent:   ua,
			ConsentedAt: req.Consent.ConsentedAt,
		},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ackResponse{Result: "signed"})
}

func (s *HTTPServer) reject(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	if err := s.signing.Reject(c.Request().Context(), req.Token, req.Reason); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ackResponse{Result: "rejected"})
}

func (s *HTTPServer) openOriginal(c echo.Context) error {
	url, err := s.signing.OpenOriginalDocument(c.Request().Context(),
		c.QueryParam(common.AccessTokenParamName), c.QueryParam(common.SessionIDParamName))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urlResponse{URL: url})
}

func (s *HTTPServer) checkAccess(c echo.Context) error {
	g, err := s.preview.CheckAccess(c.Request().Context(),
		c.QueryParam(common.AccessTokenParamName), c.QueryParam(common.SessionIDParamName))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accessResponse{
		URL:              g.URL,
		SealedDocumentID: g.SealedDocumentID,
		Remaining:        g.Remaining,
		ExpiresAt:        g.ExpiresAt,
	})
}
