package server

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SeatCoordinator frees a seat held by the player API's own clients when a proxied player
// joins, and takes it back once that player leaves.
type SeatCoordinator interface {
	SitOut(ctx context.Context, username string, address string) error
	FillIn(ctx context.Context, username string, address string) error
}

type seatRequest struct {
	Username string `json:"username"`
	Address  string `json:"address"`
}

type HttpSeatCoordinator struct {
	api *apiClient
}

func NewHttpSeatCoordinator(baseUrl string, authKey string, timeout time.Duration) *HttpSeatCoordinator {
	return &HttpSeatCoordinator{
		api: newApiClient(baseUrl, authKey, timeout),
	}
}

func (c *HttpSeatCoordinator) SitOut(ctx context.Context, username string, address string) error {
	logrus.
		WithField("player", username).
		WithField("client", address).
		Debug("Requesting sit out")
	_, err := c.api.postJSON(ctx, "/sit_out", &seatRequest{Username: username, Address: address})
	if err != nil {
		return errors.Wrap(err, "sit out failed")
	}
	return nil
}

func (c *HttpSeatCoordinator) FillIn(ctx context.Context, username string, address string) error {
	logrus.
		WithField("player", username).
		WithField("client", address).
		Debug("Requesting fill in")
	_, err := c.api.postJSON(ctx, "/fill_in", &seatRequest{Username: username, Address: address})
	if err != nil {
		return errors.Wrap(err, "fill in failed")
	}
	return nil
}

// JoinAll asks the player API to bring all of its clients onto the server.
// It is called once at startup, outside of any connection.
func (c *HttpSeatCoordinator) JoinAll(ctx context.Context) error {
	_, err := c.api.get(ctx, "/join_all")
	if err != nil {
		return errors.Wrap(err, "join all failed")
	}
	return nil
}
