package server

import (
	"fx-forward-runner/internal/hub"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/metrics"

	"github.com/gorilla/mux"
)

type Deps struct {
	Store         SessionStore
	Job           interfaces.Job
	Hub           *hub.Hub
	JWTSecret     []byte
	TriggerSecret string
}

// SetupRouter configures all routes and returns the router
func SetupRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", HealthHandler).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	var publisher interfaces.Publisher
	if d.Hub != nil {
		router.HandleFunc("/ws", d.Hub.HandleWebSocket)
		publisher = d.Hub
	}

	apiRouter := router.PathPrefix("/api").Subrouter()

	if d.Job != nil {
		jobRouter := apiRouter.PathPrefix("").Subrouter()
		jobRouter.Use(TriggerMiddleware(d.TriggerSecret))
		NewJobHandler(d.Job).RegisterRoutes(jobRouter)
	}

	authRouter := apiRouter.PathPrefix("").Subrouter()
	authRouter.Use(AuthMiddleware(d.JWTSecret))
	NewSessionHandler(d.Store, publisher).RegisterRoutes(authRouter)

	return router
}
