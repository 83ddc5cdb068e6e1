package player

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

//go:embed player.html
var playerPage []byte

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge binds to loopback; the page it serves is the only
		// expected origin.
		return true
	},
}

// BrowserDriver implements Driver by hosting a small page that loads the
// Spotify Web Playback SDK in a browser and relays its lifecycle events to
// this process over a websocket. The SDK only runs inside a browser, so
// "script injection" for a Go client means serving that page and asking
// the user to open it.
type BrowserDriver struct {
	addr string
	log  zerolog.Logger

	mu      sync.Mutex
	onReady func()
	cfg     Config
	ev      Events
	conn    *websocket.Conn
	srv     *http.Server
	started bool

	writeMu sync.Mutex
}

func NewBrowserDriver(addr string, logger zerolog.Logger) *BrowserDriver {
	return &BrowserDriver{
		addr: addr,
		log:  logger.With().Str("component", "player-bridge").Logger(),
	}
}

// URL is the address the user opens to bring the playback device up.
func (d *BrowserDriver) URL() string {
	return "http://" + d.addr + "/"
}

// Load starts the bridge server. onReady fires when the page reports the
// SDK runtime is up. The server shuts down when ctx is cancelled.
func (d *BrowserDriver) Load(ctx context.Context, onReady func()) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("player: bridge already started")
	}
	d.started = true
	d.onReady = onReady
	d.mu.Unlock()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", playerPage)
	})
	router.GET("/config", d.handleConfig)
	router.GET("/token", d.handleToken)
	router.GET("/ws", d.handleSocket)

	srv := &http.Server{Addr: d.addr, Handler: router}
	d.mu.Lock()
	d.srv = srv
	d.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error().Err(err).Msg("bridge server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	d.log.Info().Str("url", d.URL()).Msg("open this page in a browser to bring the playback device up")
	return nil
}

// Connect stores the player configuration and, once the page's socket is
// up, instructs it to construct and connect the SDK player.
func (d *BrowserDriver) Connect(cfg Config, ev Events) (Connection, error) {
	d.mu.Lock()
	d.cfg = cfg
	d.ev = ev
	conn := d.conn
	d.mu.Unlock()

	if conn != nil {
		if err := d.send(map[string]interface{}{
			"type":   "connect",
			"name":   cfg.Name,
			"volume": cfg.Volume,
		}); err != nil {
			return nil, fmt.Errorf("player: failed to instruct page to connect: %w", err)
		}
	}
	return &bridgeConnection{driver: d}, nil
}

func (d *BrowserDriver) handleConfig(c *gin.Context) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"name": cfg.Name, "volume": cfg.Volume})
}

func (d *BrowserDriver) handleToken(c *gin.Context) {
	d.mu.Lock()
	token := d.cfg.Token
	d.mu.Unlock()

	if token == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "player not connected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token()})
}

type bridgeMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Message  string `json:"message,omitempty"`

	TrackURI   string `json:"track_uri,omitempty"`
	Paused     bool   `json:"paused,omitempty"`
	PositionMS int    `json:"position_ms,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

func (d *BrowserDriver) handleSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to upgrade bridge socket")
		return
	}

	d.mu.Lock()
	if d.conn != nil {
		// A second page showed up; the newest one wins.
		_ = d.conn.Close()
	}
	d.conn = conn
	d.mu.Unlock()

	d.readLoop(conn)
}

func (d *BrowserDriver) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				d.log.Warn().Err(err).Msg("bridge socket closed")
			}
			return
		}

		var msg bridgeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			d.log.Warn().Err(err).Msg("unparseable bridge message")
			continue
		}

		d.dispatch(msg)
	}
}

func (d *BrowserDriver) dispatch(msg bridgeMessage) {
	d.mu.Lock()
	onReady := d.onReady
	ev := d.ev
	d.mu.Unlock()

	switch msg.Type {
	case "sdk_ready":
		if onReady != nil {
			onReady()
		}
	case "ready":
		if ev.Ready != nil {
			ev.Ready(msg.DeviceID)
		}
	case "not_ready":
		if ev.NotReady != nil {
			ev.NotReady(msg.DeviceID)
		}
	case "state_changed":
		if ev.StateChanged != nil {
			ev.StateChanged(PlaybackState{
				TrackURI:   msg.TrackURI,
				Paused:     msg.Paused,
				PositionMS: msg.PositionMS,
				DurationMS: msg.DurationMS,
			})
		}
	case "initialization_error", "authentication_error", "account_error", "playback_error":
		if ev.Error != nil {
			ev.Error(ErrorKind(msg.Type), msg.Message)
		}
	default:
		d.log.Debug().Str("type", msg.Type).Msg("ignoring bridge message")
	}
}

func (d *BrowserDriver) send(v interface{}) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("player: no page connected")
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteJSON(v)
}

type bridgeConnection struct {
	driver *BrowserDriver
	once   sync.Once
}

func (c *bridgeConnection) Disconnect() error {
	c.once.Do(func() {
		_ = c.driver.send(map[string]string{"type": "disconnect"})
		c.driver.mu.Lock()
		conn := c.driver.conn
		c.driver.conn = nil
		c.driver.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}
