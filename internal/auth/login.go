package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/party-room-system/internal/identity"
	"github.com/party-room-system/internal/roomapi"
	"github.com/party-room-system/pkg/models"
)

// Flow drives the browser login dance for the client. It asks the room
// service for the authorization URL, waits for the redirect on a local
// listener and persists the resolved user record.
type Flow struct {
	api    *roomapi.Client
	store  identity.Store
	addr   string
	log    zerolog.Logger
	opener func(url string) error
}

func NewFlow(api *roomapi.Client, store identity.Store, listenAddr string, logger zerolog.Logger) *Flow {
	if listenAddr == "" {
		listenAddr = "127.0.0.1:8899"
	}
	return &Flow{
		api:    api,
		store:  store,
		addr:   listenAddr,
		log:    logger.With().Str("component", "auth").Logger(),
		opener: openBrowser,
	}
}

// CurrentUser returns the persisted user record, or nil when none is
// stored.
func (f *Flow) CurrentUser(ctx context.Context) (*models.User, error) {
	return f.store.Load(ctx)
}

// Logout removes the persisted record.
func (f *Flow) Logout(ctx context.Context) error {
	return f.store.Clear(ctx)
}

type callbackResult struct {
	user *models.User
	err  error
}

// Login returns the stored user when one exists, otherwise it runs the
// interactive flow: open the authorization URL, wait for the callback
// and persist whatever identity it carries.
func (f *Flow) Login(ctx context.Context) (*models.User, error) {
	user, err := f.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil {
		f.log.Debug().Str("spotify_id", user.SpotifyID).Msg("using stored identity")
		return user, nil
	}

	loginURL, err := f.api.LoginURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: fetch login url: %w", err)
	}

	results := make(chan callbackResult, 1)
	srv, err := f.startListener(results)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	f.log.Info().Str("url", loginURL).Msg("waiting for login in browser")
	if err := f.opener(loginURL); err != nil {
		f.log.Warn().Err(err).Msg("could not open browser, visit the url manually")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		if err := f.store.Save(ctx, res.user); err != nil {
			return nil, fmt.Errorf("auth: persist identity: %w", err)
		}
		return res.user, nil
	}
}

func (f *Flow) startListener(results chan<- callbackResult) (*http.Server, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/callback", func(c *gin.Context) {
		user, err := f.resolveCallback(c)
		if err != nil {
			c.String(http.StatusBadRequest, "login failed: %v", err)
		} else {
			c.String(http.StatusOK, "Logged in as %s. You can close this tab.", user.DisplayName)
		}
		select {
		case results <- callbackResult{user: user, err: err}:
		default:
		}
	})

	srv := &http.Server{Addr: f.addr, Handler: router}
	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return nil, fmt.Errorf("auth: callback listener: %w", err)
	case <-time.After(100 * time.Millisecond):
		return srv, nil
	}
}

// resolveCallback accepts the three redirect shapes the service may
// produce: a full user payload, a spotify_id to look up, or a raw
// authorization code to exchange.
func (f *Flow) resolveCallback(c *gin.Context) (*models.User, error) {
	ctx := c.Request.Context()

	if raw := c.Query("user"); raw != "" {
		var user models.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("auth: decode user payload: %w", err)
		}
		if user.SpotifyID == "" {
			return nil, fmt.Errorf("auth: user payload missing spotify_id")
		}
		return &user, nil
	}

	if spotifyID := c.Query("spotify_id"); spotifyID != "" {
		user, err := f.api.Me(ctx, spotifyID)
		if err != nil {
			return nil, fmt.Errorf("auth: resolve identity: %w", err)
		}
		return user, nil
	}

	if code := c.Query("code"); code != "" {
		user, err := f.api.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("auth: exchange code: %w", err)
		}
		return user, nil
	}

	return nil, fmt.Errorf("auth: callback carried no identity")
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
