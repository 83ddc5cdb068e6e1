package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/party-room-system/internal/auth"
	"github.com/party-room-system/internal/config"
	"github.com/party-room-system/internal/identity"
	"github.com/party-room-system/internal/player"
	"github.com/party-room-system/internal/room"
	"github.com/party-room-system/internal/roomapi"
	"github.com/party-room-system/pkg/log"
	"github.com/party-room-system/pkg/models"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("client exited")
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, logger zerolog.Logger) error {
	api := roomapi.NewClient(cfg.API.BaseURL)

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	flow := auth.NewFlow(api, store, cfg.Auth.CallbackAddr, logger)
	user, err := flow.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Printf("Logged in as %s\n", user.DisplayName)

	code, err := resolveRoom(ctx, api, user)
	if err != nil {
		return err
	}

	session := room.NewSession(api, *user, code, cfg.Poll.Interval, logger)
	if err := session.Join(ctx); err != nil {
		return fmt.Errorf("join %s: %w", code, err)
	}
	fmt.Printf("Joined room %s\n", session.Code())

	go func() {
		if err := session.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("polling loop stopped")
		}
	}()

	var adapter *player.Adapter
	if session.Snapshot().IsHost && user.AccessToken != "" {
		driver := player.NewBrowserDriver(cfg.Player.BridgeAddr, logger)
		adapter = player.NewAdapter(driver, cfg.Player.Name, cfg.Player.Volume, logger,
			func(n player.Notification) {
				session.SetDevice(n.DeviceID, n.State == player.Ready)
				if n.Playback != nil {
					session.SetPlaying(!n.Playback.Paused)
				}
			})
		if err := adapter.Start(ctx, func() string { return user.AccessToken }); err != nil {
			return fmt.Errorf("start player: %w", err)
		}
		defer adapter.Close()
		fmt.Printf("Open %s to activate the playback device\n", driver.URL())
	}

	return commandLoop(ctx, session, adapter, flow)
}

func newStore(cfg *config.ClientConfig) (identity.Store, error) {
	switch cfg.Identity.Store {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return identity.NewRedisStore(client, cfg.Identity.RedisKey), nil
	case "file", "":
		if err := os.MkdirAll(filepath.Dir(cfg.Identity.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("identity dir: %w", err)
		}
		return identity.NewFileStore(cfg.Identity.FilePath), nil
	default:
		return nil, fmt.Errorf("unknown identity store %q", cfg.Identity.Store)
	}
}

// resolveRoom reads the room from the command line: "create [threshold]"
// makes a new room, anything else is taken as a room code to join.
func resolveRoom(ctx context.Context, api *roomapi.Client, user *models.User) (string, error) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "", fmt.Errorf("usage: %s <room-code> | create [threshold]", filepath.Base(os.Args[0]))
	}

	if args[0] == "create" {
		threshold := 2
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return "", fmt.Errorf("threshold must be a positive number")
			}
			threshold = n
		}
		info, err := api.CreateRoom(ctx, user.SpotifyID, threshold)
		if err != nil {
			return "", fmt.Errorf("create room: %w", err)
		}
		fmt.Printf("Created room %s (threshold %d)\n", info.Code, info.LikeThreshold)
		return info.Code, nil
	}

	if !roomapi.ValidRoomCode(args[0]) {
		return "", roomapi.ErrInvalidRoomCode
	}
	return roomapi.NormalizeCode(args[0]), nil
}

func commandLoop(ctx context.Context, session *room.Session, adapter *player.Adapter, flow *auth.Flow) error {
	fmt.Println("Commands: like, dislike, random, next, play, pause, resume, status, logout, quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				return nil
			}
			if line == "logout" {
				if err := flow.Logout(ctx); err != nil {
					return fmt.Errorf("logout: %w", err)
				}
				fmt.Println("Logged out.")
				return nil
			}
			if err := dispatch(ctx, session, adapter, line); err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}

func dispatch(ctx context.Context, session *room.Session, adapter *player.Adapter, cmd string) error {
	switch cmd {
	case "like":
		return session.Vote(ctx, true)
	case "dislike":
		return session.Vote(ctx, false)
	case "random":
		return session.RequestRandomTrack(ctx)
	case "next":
		return session.AdvanceRound(ctx)
	case "play":
		return session.Play(ctx)
	case "pause":
		return session.Pause(ctx)
	case "resume":
		return session.Resume(ctx)
	case "status":
		printStatus(session.Snapshot(), adapter)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printStatus(snap room.Snapshot, adapter *player.Adapter) {
	fmt.Printf("room %s  joined=%v host=%v playing=%v\n",
		snap.RoomCode, snap.Joined, snap.IsHost, snap.Playing)

	if snap.State != nil {
		if t := snap.State.CurrentTrack; t != nil {
			fmt.Printf("track: %s by %s\n", t.Name, t.Artists)
		} else {
			fmt.Println("track: none selected")
		}
		fmt.Printf("likes: %d/%d (%.0f%%)  ready=%v\n",
			snap.State.Likes, snap.State.Room.LikeThreshold, snap.Progress*100, snap.ReadyToPlay)
	}

	fmt.Printf("participants (%d):\n", len(snap.Participants))
	for i, p := range snap.Participants {
		marker := ""
		if i == 0 {
			marker = " (host)"
		}
		fmt.Printf("  %s%s\n", p.DisplayName, marker)
	}

	if adapter != nil {
		id, usable := adapter.DeviceID()
		fmt.Printf("device: state=%s id=%s usable=%v\n", adapter.State(), id, usable)
		if cause := adapter.Cause(); cause != "" {
			fmt.Println("device failure:", cause)
		}
	}
	if snap.LastError != nil {
		fmt.Printf("last error (%s): %v\n", snap.ErrorKind, snap.LastError)
	}
}
