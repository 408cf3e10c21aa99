package web

import (
	"encoding/json"
	"log/slog"

	"netval/internal/jobs"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) setupWebsockets(app *fiber.App) {
	ws := app.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	for _, kind := range []string{"simulation", "ingestion", "remediation"} {
		ws.Get("/"+kind+"/:job_id", websocket.New(s.streamJob))
	}
}

// streamJob replays the job's history and then relays live events until the
// job terminates. A job that already finished gets a single final frame read
// from the persisted row.
func (s *Server) streamJob(conn *websocket.Conn) {
	defer conn.Close()
	jobID := conn.Params("job_id")

	ch, cancel, live := s.jobs.Subscribe(jobID)
	if !live {
		s.sendFinished(conn, jobID)
		return
	}
	defer cancel()

	// Reader loop only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) sendFinished(conn *websocket.Conn, jobID string) {
	j, err := s.jobs.Get(jobID)
	if err != nil {
		if werr := conn.WriteJSON(jobs.Event{"event": "error", "error": err.Error()}); werr != nil {
			slog.Debug("ws write failed", "job", jobID, "error", werr)
		}
		return
	}
	final := jobs.Event{"event": "complete", "status": j.Status}
	if j.Status != "complete" {
		final = jobs.Event{"event": "failed", "status": j.Status, "error": j.Error}
	} else if len(j.Result) > 0 {
		final["result"] = json.RawMessage(j.Result)
	}
	if err := conn.WriteJSON(final); err != nil {
		slog.Debug("ws write failed", "job", jobID, "error", err)
	}
}
