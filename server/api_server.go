package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type PlayerInfo struct {
	Username string `json:"username"`
	Address  string `json:"address"`
}

// NewApiRoutes builds the admin API over the connector's registries
func NewApiRoutes(connector *Connector, exposeMetrics bool) *mux.Router {
	router := mux.NewRouter()

	router.Path("/connections").Methods(http.MethodGet).
		HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writeJson(writer, http.StatusOK, connector.Connections().List())
		})

	router.Path("/players").Methods(http.MethodGet).
		HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			snapshot := connector.Players().Snapshot()
			players := make([]PlayerInfo, 0, len(snapshot))
			for username, address := range snapshot {
				players = append(players, PlayerInfo{Username: username, Address: address})
			}
			sort.Slice(players, func(i, j int) bool {
				return players[i].Username < players[j].Username
			})
			writeJson(writer, http.StatusOK, players)
		})

	router.Path("/players/{username}").Methods(http.MethodDelete).
		HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			username := mux.Vars(request)["username"]
			address, found := connector.Players().Lookup(username)
			if !found || !connector.Connections().Close(address) {
				writer.WriteHeader(http.StatusNotFound)
				return
			}
			logrus.
				WithField("player", username).
				WithField("client", address).
				Info("Kicked player via API")
			writer.WriteHeader(http.StatusNoContent)
		})

	if exposeMetrics {
		router.Path("/metrics").Handler(promhttp.Handler())
	}

	return router
}

func writeJson(writer http.ResponseWriter, status int, value interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		logrus.WithError(err).Error("Failed to encode API response")
	}
}

// StartApiServer serves the admin API until ctx is done
func StartApiServer(ctx context.Context, apiBinding string, handler http.Handler) {
	server := &http.Server{
		Addr:              apiBinding,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithField("binding", apiBinding).Info("Serving API requests")
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("API server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
