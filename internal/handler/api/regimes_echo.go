package api

import (
	"net/http"
	"time"

	models "RegimePulse/internal/domain/models"
	icache "RegimePulse/internal/service/cache"
	"RegimePulse/internal/service/ratelimit"
	"RegimePulse/internal/usecase"
	xhttp "RegimePulse/pkg/http"
	xlogger "RegimePulse/pkg/logger"
	"RegimePulse/pkg/queue"
	"RegimePulse/pkg/util"

	"github.com/labstack/echo/v4"
)

const historyCacheTTL = 30 * time.Second

// RegimesEchoHandler implements the Echo-based HTTP surface for regime
// queries, ad-hoc inference and backfill scheduling.
type RegimesEchoHandler struct {
	logger   *xlogger.Logger
	svc      *usecase.RegimeService
	backfill queue.QueueService
	history  *icache.HistoryCache
	limiter  *ratelimit.Limiter
}

func NewRegimesEchoHandler(logger *xlogger.Logger, svc *usecase.RegimeService, backfill queue.QueueService) *RegimesEchoHandler {
	return &RegimesEchoHandler{
		logger:   logger,
		svc:      svc,
		backfill: backfill,
		history:  icache.NewHistoryCache(),
		limiter:  ratelimit.New(),
	}
}

func (h *RegimesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.GET("/regime/current", h.Current)
	g.GET("/regime/all", h.All)
	g.GET("/regime/history", h.History)
	g.POST("/regime/infer", h.Infer)
	g.POST("/regime/reset", h.Reset)
	g.POST("/backfill", h.Backfill)
}

func (h *RegimesEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":  "ok",
		"symbols": h.svc.Symbols(),
	})
}

func (h *RegimesEchoHandler) Current(c echo.Context) error {
	req := &models.CurrentRegimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	out, err := h.svc.Current(c.Request().Context(), req.Symbol, models.Timeframe(req.TF))
	if err != nil {
		return xhttp.NotFoundResponse(c, err.Error())
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, out)
}

func (h *RegimesEchoHandler) All(c echo.Context) error {
	req := &models.AllRegimesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	all, err := h.svc.AllCurrent(c.Request().Context(), req.Symbol)
	if err != nil {
		return xhttp.NotFoundResponse(c, err.Error())
	}
	return xhttp.SuccessResponse(c, all)
}

func (h *RegimesEchoHandler) History(c echo.Context) error {
	req := &models.RegimeHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := time.Now().UTC()
	from := util.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := util.ParseTimeDefault(req.To, now)
	from, to = util.AlignFromTo(from, to, req.TF)

	key := icache.Key(req.Symbol, models.Timeframe(req.TF), from, to, req.Limit)
	if rows, ok := h.history.Get(key); ok {
		return xhttp.ListResponse(c, rows, int64(len(rows)))
	}

	rows, err := h.svc.History(c.Request().Context(), req.Symbol, models.Timeframe(req.TF), from, to, req.Limit)
	if err != nil {
		h.logger.Error("history usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	h.history.Set(key, rows, historyCacheTTL)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *RegimesEchoHandler) Infer(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP(), 10, 5) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	}

	req := &models.InferRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	t := req.T
	if t > 1e11 { // ms
		t = t / 1000
	}
	out, latent, err := h.svc.Infer(c.Request().Context(), req.Symbol, models.Timeframe(req.TF), req.Features, time.Unix(t, 0).UTC())
	if err != nil {
		h.logger.Error("infer usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, &models.InferResponse{Output: out, Latent: latent})
}

func (h *RegimesEchoHandler) Reset(c echo.Context) error {
	req := &models.ResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if err := h.svc.ResetAll(req.Symbol); err != nil {
		return xhttp.NotFoundResponse(c, err.Error())
	}
	return xhttp.NoContentResponse(c)
}

func (h *RegimesEchoHandler) Backfill(c echo.Context) error {
	req := &models.BackfillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	from, ok := util.ParseTime(req.From)
	if !ok {
		return xhttp.BadRequestResponse(c, "from is not a valid time")
	}
	to, ok := util.ParseTime(req.To)
	if !ok {
		return xhttp.BadRequestResponse(c, "to is not a valid time")
	}
	if !to.After(from) {
		return xhttp.BadRequestResponse(c, "to must be after from")
	}

	payload := &usecase.BackfillPayload{
		Symbol:    req.Symbol,
		Timeframe: req.TF,
		From:      from,
		To:        to,
	}
	if err := h.backfill.PublishMessage(c.Request().Context(), "regime.backfill", payload); err != nil {
		h.logger.Error("backfill enqueue error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.CreatedResponse(c, map[string]string{"status": "queued"})
}
