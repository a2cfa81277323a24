package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/focus-room-backend/internal/hub"
	"github.com/DoyleJ11/focus-room-backend/internal/ws"
)

type Options struct {
	AllowedOrigins []string
	OutboxSize     int
	// EventLog serves event replay. The events route is not mounted
	// without it.
	EventLog EventLog
}

func SetupRoutes(h *hub.Hub, log *zap.Logger, opts Options) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/healthz", Healthz)

	r.Route("/presence", func(r chi.Router) {
		r.Post("/join", Join(h, log))
		r.Post("/leave", Leave(h, log))
		r.Post("/heartbeat", Heartbeat(h, log))
	})
	r.Route("/session", func(r chi.Router) {
		r.Post("/start", StartSession(h, log))
		r.Post("/stop", StopSession(h, log))
		r.Post("/pause", PauseSession(h, log))
		r.Post("/resume", ResumeSession(h, log))
	})
	r.Route("/competition", func(r chi.Router) {
		r.Post("/start", StartCompetition(h, log))
		r.Post("/end", EndCompetition(h, log))
	})
	r.Post("/score", Score(h, log))

	r.Route("/room/{room_id}", func(r chi.Router) {
		r.Get("/snapshot", Snapshot(h, log))
		r.Get("/eligibility", Eligibility(h, log))
		if opts.EventLog != nil {
			r.Get("/events", Events(opts.EventLog, log))
		}
		r.Get("/ws", ws.Handler(h, log.Named("ws"), ws.Options{
			OutboxSize:     opts.OutboxSize,
			OriginPatterns: originPatterns(opts.AllowedOrigins),
		}))
	})
	return r
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		out = append(out, strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://"))
	}
	return out
}
