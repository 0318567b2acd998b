package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Soham-047/trello-mini/domain"
	"github.com/Soham-047/trello-mini/hub"
)

const keepAliveInterval = 25 * time.Second

// streamBoard is the realtime channel: one SSE response per connection,
// joined to the board's broadcast group for its whole lifetime. EventSource
// cannot set headers, so the token may also arrive as a query parameter.
func streamBoard(reads Reader, h *hub.Hub, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireMember(c, reads, boardID, userID); err != nil {
			return err
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		conn := h.NewConn()
		h.Join(boardID, conn)
		defer func() {
			h.Leave(conn)
			conn.Close()
		}()

		logger.WithFields(log.Fields{
			"conn_id":  conn.ID(),
			"board_id": boardID,
			"user_id":  userID,
		}).Info("stream connected")

		// Flush headers right away so the client sees the stream open
		// before the first event.
		if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ctx := c.Request().Context()
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-conn.Done():
				// The hub dropped this connection for falling behind.
				return nil
			case <-keepAlive.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case env := <-conn.Events():
				data, err := sonic.Marshal(env)
				if err != nil {
					logger.WithError(err).WithField("type", env.Type).Error("failed to encode stream event")
					continue
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

// postPresence relays an ephemeral presence signal to the board's group.
// Inbound frames never mutate state: any type other than presence.ping is
// rejected.
func postPresence(reads Reader, h *hub.Hub, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("id")
		if err := requireMember(c, reads, boardID, userID); err != nil {
			return err
		}

		var env domain.Envelope
		if err := decode(c, &env); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if env.Type != domain.EventPresencePing {
			return c.String(http.StatusBadRequest, "only presence.ping may be relayed")
		}

		h.Relay(boardID, env)
		return c.NoContent(http.StatusAccepted)
	}
}
