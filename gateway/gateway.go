// Package gateway accepts authenticated long-lived client connections and
// relays progress.Broker events to them (§4.7 Subscriber Gateway). Adapted
// from coordinator.Coordinator's websocket connection lifecycle (ping/pong
// loop, JSON message envelope) but inverted: coordinator.Coordinator dials
// out as a client to a remote coordinator, where Gateway accepts inbound
// connections as a server, since subscribers connect to this process.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pipelinecore.dev/auth"
	"pipelinecore.dev/progress"
)

// HeartbeatInterval matches §4.7: a ping every 30s.
const HeartbeatInterval = 30 * time.Second

// MissedHeartbeatLimit disconnects a subscriber after three missed pongs.
const MissedHeartbeatLimit = 3

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the only shape a subscriber may send upstream (§6
// "Client-to-server messages limited to ping/pong").
type clientMessage struct {
	Type string `json:"type"`
}

// Gateway upgrades authenticated HTTP requests to websocket connections and
// relays progress.Broker events filtered by (tenant_id, job_name).
type Gateway struct {
	validator auth.Validator
	broker    *progress.Broker
	log       *logrus.Entry
}

// New builds a Gateway bridging validator's tenant identification to
// broker's per-(tenant, job) event streams.
func New(validator auth.Validator, broker *progress.Broker, log *logrus.Entry) *Gateway {
	return &Gateway{validator: validator, broker: broker, log: log.WithField("component", "gateway")}
}

// ServeHTTP handles the subscriber handshake: validate the bearer token
// (query param or header, §6), derive tenant_id from it, read job_name,
// upgrade, and start relaying. Token refresh does not tear down the
// connection once authenticated (§4.7: "authentication is at handshake
// only").
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer := bearerFromRequest(r)
	identity, err := g.validator.ValidateToken(r.Context(), bearer)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	jobName := r.URL.Query().Get("job_name")
	if jobName == "" {
		http.Error(w, "job_name is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	g.serve(r.Context(), conn, identity.TenantID, jobName)
}

func bearerFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
		return authz[len(prefix):]
	}
	return authz
}

// serve relays broker events to conn until the connection closes, the
// subscriber misses MissedHeartbeatLimit pongs, or ctx is cancelled
// (shutdown signal, §5).
func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, tenantID int64, jobName string) {
	events, unsubscribe := g.broker.Subscribe(tenantID, jobName)
	defer unsubscribe()

	missed := 0
	pinged := false
	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	go g.readLoop(conn)

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	log := g.log.WithField("tenant_id", tenantID).WithField("job", jobName)
	log.Info("subscriber connected")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("subscriber write failed, closing")
				return
			}
		case <-ticker.C:
			select {
			case <-pong:
				missed = 0
			default:
				if pinged {
					missed++
				}
			}
			if missed >= MissedHeartbeatLimit {
				log.Info("subscriber missed heartbeats, disconnecting")
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
			pinged = true
		}
	}
}

// readLoop drains client-to-server traffic. Subscribers may only send
// ping/pong (§6); anything else is read and discarded so the connection
// stays alive without the gateway acting on arbitrary client input.
func (g *Gateway) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		_ = json.Unmarshal(data, &msg)
	}
}
