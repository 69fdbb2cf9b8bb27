package scheduler

import (
	"encoding/json"
	"fmt"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"net/http"
)

type Err struct {
	Err string `json:"error"`
}

type handler struct {
	registry *Registry
	logger   log.Logger
}

func (h *handler) encodeError(w http.ResponseWriter, status int, e error) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Err{Err: e.Error()}); err != nil {
		h.logger.Error(err)
	}
}

func (h *handler) pools(writer http.ResponseWriter, _ *http.Request) {
	var stats []Stats
	for _, name := range h.registry.List() {
		if s, ok := h.registry.Get(name); ok {
			stats = append(stats, s.Stats())
		}
	}

	if err := json.NewEncoder(writer).Encode(stats); err != nil {
		h.logger.Error(err)
	}
}

func (h *handler) pool(writer http.ResponseWriter, request *http.Request) {
	name := mux.Vars(request)[`name`]
	s, ok := h.registry.Get(name)
	if !ok {
		h.encodeError(writer, http.StatusNotFound, errors.Errorf(`scheduler [%s] does not exist`, name))
		return
	}

	if err := json.NewEncoder(writer).Encode(s.Stats()); err != nil {
		h.logger.Error(err)
	}
}

// Router exposes the registry stats over http.
//   GET /pools
//   GET /pools/{name}
func Router(registry *Registry, logger log.Logger) http.Handler {
	r := mux.NewRouter()
	h := &handler{
		registry: registry,
		logger:   logger.NewLog(log.Prefixed(`scheduler-http`)),
	}

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set(`Content-Type`, `application/json`)
			next.ServeHTTP(writer, request)
		})
	})
	r.HandleFunc(`/pools`, h.pools).Methods(http.MethodGet)
	r.HandleFunc(`/pools/{name}`, h.pool).Methods(http.MethodGet)

	return handlers.CORS()(r)
}

// MakeEndpoints serves Router on host in the background.
func MakeEndpoints(host string, registry *Registry, logger log.Logger) *http.Server {
	srv := &http.Server{
		Addr:    host,
		Handler: Router(registry, logger),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf(`cannot start scheduler http server : %+v`, err))
		}
	}()

	logger.Info(fmt.Sprintf(`scheduler http server started on %s`, host))

	return srv
}
