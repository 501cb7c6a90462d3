package server

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/itzg/mc-seat-proxy/mcproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FetchBackendMotd performs one server list ping against the backend and returns the
// plain text of its description.
func FetchBackendMotd(ctx context.Context, backendHostPort string, timeout time.Duration) (string, error) {
	host, portStr, err := net.SplitHostPort(backendHostPort)
	if err != nil {
		return "", errors.Wrap(err, "invalid backend address")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", errors.Wrap(err, "invalid backend port")
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", backendHostPort)
	if err != nil {
		return "", errors.Wrap(err, "failed to connect to backend for status")
	}
	//noinspection GoUnhandledErrorResult
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", errors.Wrap(err, "failed to set status deadline")
	}

	err = mcproto.WriteHandshake(conn, &mcproto.Handshake{
		ProtocolVersion: mcproto.ProtocolVersion1_19_2,
		ServerAddress:   host,
		ServerPort:      uint16(port),
		NextState:       mcproto.StateStatus,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to write status handshake")
	}
	if err := mcproto.WriteStatusRequest(conn); err != nil {
		return "", errors.Wrap(err, "failed to write status request")
	}

	packet, err := mcproto.ReadPacket(bufio.NewReader(conn))
	if err != nil {
		return "", errors.Wrap(err, "failed to read status response")
	}
	if packet.PacketID != mcproto.PacketIdStatusResponse {
		return "", errors.Errorf("unexpected status packet 0x%02x", packet.PacketID)
	}

	status, err := mcproto.DecodeStatusResponse(packet.Data)
	if err != nil {
		return "", err
	}

	motd := mcproto.DescriptionText(status.Description)
	logrus.
		WithField("backend", backendHostPort).
		WithField("motd", motd).
		WithField("version", status.Version.Name).
		Debug("Fetched backend status")
	return motd, nil
}
