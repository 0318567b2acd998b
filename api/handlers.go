package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Soham-047/trello-mini/domain"
	"github.com/Soham-047/trello-mini/hub"
	"github.com/Soham-047/trello-mini/pipeline"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, pipe Mutator, reads Reader, snapshots Snapshots, h *hub.Hub, auth Authenticator, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	e.GET("/healthz", healthz())

	e.GET("/api/boards", getBoards(reads, auth))
	e.POST("/api/boards", postBoard(pipe, auth))
	e.GET("/api/boards/:id", getBoard(reads, snapshots, auth))
	e.DELETE("/api/boards/:id", deleteBoard(pipe, auth))
	e.POST("/api/boards/:id/members", postMember(pipe, auth))
	e.GET("/api/boards/:id/activity", getActivity(reads, auth))
	e.POST("/api/boards/:id/lists", postList(pipe, auth))

	e.PATCH("/api/lists/:id", patchList(pipe, auth))
	e.POST("/api/lists/:id/move", moveList(pipe, auth))
	e.DELETE("/api/lists/:id", deleteList(pipe, auth))
	e.POST("/api/lists/:id/cards", postCard(pipe, auth))

	e.PATCH("/api/cards/:id", patchCard(pipe, auth))
	e.POST("/api/cards/:id/move", moveCard(pipe, auth))
	e.DELETE("/api/cards/:id", deleteCard(pipe, auth))
	e.POST("/api/cards/:id/comments", postComment(pipe, auth))
	e.GET("/api/cards/:id/comments", getComments(reads, auth))

	e.GET("/api/boards/:id/stream", streamBoard(reads, h, auth, logger))
	e.POST("/api/boards/:id/presence", postPresence(reads, h, auth))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decode reads a bounded JSON body and rejects unknown fields, so typos in
// client payloads fail loudly instead of silently dropping data.
func decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps domain errors onto HTTP statuses. Anything unmapped is a
// 500 with the detail kept server-side.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return c.String(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflictExhausted):
		return c.String(http.StatusConflict, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, "internal error")
	}
}

func getBoards(reads Reader, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boards, err := reads.ListBoards(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, boards)
	}
}

type createBoardRequest struct {
	Title      string `json:"title"`
	Visibility string `json:"visibility,omitempty"`
}

func postBoard(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		board, err := pipe.CreateBoard(c.Request().Context(), userID, req.Title, req.Visibility)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func getBoard(reads Reader, snapshots Snapshots, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireMember(c, reads, boardID, userID); err != nil {
			return err
		}
		snap, err := snapshots.FetchBoard(ctx, boardID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, snap)
	}
}

func deleteBoard(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := pipe.DeleteBoard(c.Request().Context(), userID, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type addMemberRequest struct {
	UserID string `json:"userId"`
}

func postMember(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req addMemberRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := pipe.AddMember(c.Request().Context(), userID, c.Param("id"), req.UserID); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getActivity(reads Reader, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireMember(c, reads, boardID, userID); err != nil {
			return err
		}
		limit := 0
		if raw := c.QueryParam("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				return c.String(http.StatusBadRequest, "invalid limit")
			}
		}
		entries, err := reads.FetchActivity(ctx, boardID, limit)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, entries)
	}
}

type createListRequest struct {
	Title string `json:"title"`
}

func postList(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createListRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list, err := pipe.CreateList(c.Request().Context(), userID, c.Param("id"), req.Title)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, list)
	}
}

type renameListRequest struct {
	Title string `json:"title"`
}

func patchList(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req renameListRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list, err := pipe.RenameList(c.Request().Context(), userID, c.Param("id"), req.Title)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

type moveRequest struct {
	Index    int    `json:"index"`
	ToListID string `json:"toListId,omitempty"`
}

func moveList(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req moveRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list, err := pipe.MoveList(c.Request().Context(), userID, c.Param("id"), req.Index)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func deleteList(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := pipe.DeleteList(c.Request().Context(), userID, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type createCardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func postCard(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createCardRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		card, err := pipe.CreateCard(c.Request().Context(), userID, c.Param("id"), req.Title, req.Description)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, card)
	}
}

// updateCardRequest uses pointer fields so "absent" and "set to empty" stay
// distinguishable. clearDue removes the due date; dueDate is RFC3339.
type updateCardRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Labels      *[]string `json:"labels"`
	Assignees   *[]string `json:"assignees"`
	DueDate     *string   `json:"dueDate"`
	ClearDue    bool      `json:"clearDue,omitempty"`
}

func patchCard(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req updateCardRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		patch := pipeline.CardPatch{
			Title:       req.Title,
			Description: req.Description,
			Labels:      req.Labels,
			Assignees:   req.Assignees,
			ClearDue:    req.ClearDue,
		}
		if req.DueDate != nil {
			due, err := time.Parse(time.RFC3339, *req.DueDate)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid dueDate")
			}
			patch.DueDate = &due
		}
		card, err := pipe.UpdateCard(c.Request().Context(), userID, c.Param("id"), patch)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func moveCard(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req moveRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		card, err := pipe.MoveCard(c.Request().Context(), userID, c.Param("id"), req.ToListID, req.Index)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, card)
	}
}

func deleteCard(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := pipe.DeleteCard(c.Request().Context(), userID, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type addCommentRequest struct {
	Text string `json:"text"`
}

func postComment(pipe Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req addCommentRequest
		if err := decode(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		comment, err := pipe.AddComment(c.Request().Context(), userID, c.Param("id"), req.Text)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, comment)
	}
}

func getComments(reads Reader, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		cardID := c.Param("id")
		boardID, err := reads.BoardIDForCard(ctx, cardID)
		if err != nil {
			return writeError(c, err)
		}
		if err := requireMember(c, reads, boardID, userID); err != nil {
			return err
		}
		comments, err := reads.FetchComments(ctx, cardID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, comments)
	}
}

// requireMember gates board-scoped reads the same way the pipeline gates
// writes. The returned error, when non-nil, already carries its HTTP status.
func requireMember(c echo.Context, reads Reader, boardID, userID string) error {
	ok, err := reads.IsMember(c.Request().Context(), boardID, userID)
	if err != nil {
		c.Logger().Error(err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not a board member")
	}
	return nil
}
