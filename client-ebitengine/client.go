// Command client-ebitengine is the graphical front-end: it renders the latest
// snapshot and forwards keyboard input to the session.
package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	stlog "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irishsmurf/kongjr-client/config"
	"github.com/irishsmurf/kongjr-client/game"
	"github.com/irishsmurf/kongjr-client/session"
)

// --- Constants ---
const (
	screenWidth  = 800
	screenHeight = 1000
	scale        = screenWidth / game.WorldWidth

	playerSize = 24
	hazardSize = 20
	pickupSize = 14
)

var (
	ropeColor   = color.RGBA{R: 90, G: 60, B: 30, A: 255}
	playerColor = color.RGBA{R: 240, G: 200, B: 60, A: 255}
	myColor     = color.RGBA{R: 80, G: 200, B: 255, A: 255}
	redCroc     = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	blueCroc    = color.RGBA{R: 40, G: 80, B: 220, A: 255}
	fruitColor  = color.RGBA{R: 255, G: 120, B: 0, A: 255}
)

// keyBindings maps keyboard keys to logical actions.
var keyBindings = game.KeyMap[ebiten.Key]{
	ebiten.KeyW:          game.ActionUp,
	ebiten.KeyArrowUp:    game.ActionUp,
	ebiten.KeyS:          game.ActionDown,
	ebiten.KeyArrowDown:  game.ActionDown,
	ebiten.KeyA:          game.ActionLeft,
	ebiten.KeyArrowLeft:  game.ActionLeft,
	ebiten.KeyD:          game.ActionRight,
	ebiten.KeyArrowRight: game.ActionRight,
	ebiten.KeySpace:      game.ActionJump,
	ebiten.KeyE:          game.ActionGrab,
	ebiten.KeyX:          game.ActionGrab,
}

// --- Ebitengine Game Struct ---
type Game struct {
	ctx      context.Context
	sess     *session.Session
	addr     string
	poll     time.Duration
	lastPoll time.Time
	held     game.ActionSet
	logger   *stlog.Logger
}

func NewGame(ctx context.Context, sess *session.Session, cfg config.Config, logger *stlog.Logger) *Game {
	return &Game{ctx: ctx, sess: sess, addr: cfg.ServerAddr, poll: cfg.PollInterval, logger: logger}
}

// Update forwards key events to the session and drives input polling.
func (g *Game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyQ) {
		return ebiten.Termination
	}
	if g.ctx.Err() != nil {
		g.logger.Info("Interrupt received, shutting down.")
		return ebiten.Termination
	}

	held := keyBindings.Pressed(ebiten.IsKeyPressed)
	down, up := game.Changes(g.held, held)
	g.held = held
	for _, a := range down {
		g.sess.NotifyKeyDown(a)
	}
	for _, a := range up {
		g.sess.NotifyKeyUp(a)
	}

	if now := time.Now(); now.Sub(g.lastPoll) >= g.poll {
		g.lastPoll = now
		g.sess.PollInput()
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	snap, state := g.sess.ReadLatestState()

	switch state {
	case game.ScreenTitle:
		ebitenutil.DebugPrint(screen, fmt.Sprintf("KONG JR\n\nConnecting to %s...", g.addr))
		return
	case game.ScreenDisconnected:
		msg := "DISCONNECTED"
		if err := g.sess.Err(); err != nil {
			msg += "\n" + err.Error()
		}
		ebitenutil.DebugPrint(screen, msg+"\n\nPress Esc to quit")
		return
	}

	g.drawWorld(screen, snap)

	fx := g.sess.Effects()
	if fx.HitFlash > 0 {
		alpha := uint8(160 * fx.HitFlash / game.HitFlashDuration)
		vector.DrawFilledRect(screen, 0, 0, screenWidth, screenHeight, color.RGBA{R: alpha, A: alpha}, false)
	}
	if fx.FruitGlow > 0 {
		alpha := uint8(100 * fx.FruitGlow / game.FruitGlowDuration)
		vector.DrawFilledRect(screen, 0, 0, screenWidth, screenHeight, color.RGBA{R: alpha, G: alpha, A: alpha}, false)
	}

	g.drawHUD(screen, snap, state)
}

func (g *Game) drawWorld(screen *ebiten.Image, snap game.Snapshot) {
	colWidth := float32(screenWidth) / game.Columns
	for i := 0; i < game.Columns; i++ {
		x := colWidth*float32(i) + colWidth/2
		vector.StrokeLine(screen, x, 40, x, screenHeight-40, 3, ropeColor, false)
	}

	columnX := func(col int) float32 {
		return colWidth*float32(col) + colWidth/2
	}

	for _, f := range snap.Pickups {
		if f.Column == game.NoColumn {
			continue
		}
		vector.DrawFilledCircle(screen, columnX(f.Column), float32(f.Y*scale), pickupSize/2, fruitColor, true)
	}
	for _, h := range snap.Hazards {
		if h.Column == game.NoColumn {
			continue
		}
		c := redCroc
		if h.Kind == game.HazardBlue {
			c = blueCroc
		}
		vector.DrawFilledRect(screen, columnX(h.Column)-hazardSize/2, float32(h.Y*scale)-hazardSize/2, hazardSize, hazardSize, c, false)
	}
	for _, p := range snap.Players {
		if !p.Active && p.State == game.PlayerStateEliminated {
			continue
		}
		c := playerColor
		if p.ID == g.sess.PlayerID() {
			c = myColor
		}
		x := float32(p.X * scale)
		if p.Column != game.NoColumn {
			x = columnX(p.Column)
		}
		vector.DrawFilledRect(screen, x-playerSize/2, float32(p.Y*scale)-playerSize/2, playerSize, playerSize, c, false)
	}
}

func (g *Game) drawHUD(screen *ebiten.Image, snap game.Snapshot, state game.ScreenState) {
	lives, score := 0, 0
	if me, ok := snap.Player(g.sess.PlayerID()); ok {
		lives, score = me.Lives, me.Score
	}
	hud := fmt.Sprintf("ID: %s\nLevel: %d  Tick: %d\nLives: %d  Score: %d\nSpeed: x%.1f\nFPS: %.1f",
		g.sess.PlayerID(), snap.Level, snap.Tick, lives, score, snap.SpeedMultiplier, ebiten.ActualFPS())
	if snap.Paused {
		hud += "\nPAUSED"
	}
	if snap.CelebrationPending {
		hud += fmt.Sprintf("\nNext level in %.1fs", snap.CelebrationTimer)
	}
	ebitenutil.DebugPrint(screen, hud)

	switch state {
	case game.ScreenGameOver:
		ebitenutil.DebugPrintAt(screen, "GAME OVER", screenWidth/2-30, screenHeight/2)
	case game.ScreenVictory:
		ebitenutil.DebugPrintAt(screen, "VICTORY!", screenWidth/2-25, screenHeight/2)
	}
}

// Layout defines logical screen size.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

// --- Main Function ---
func main() {
	cfg, err := config.Load("client-ebitengine", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)
	stlog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Starting metrics HTTP server", "address", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	sess := session.New(cfg, logger)
	go sess.RequestConnect(ctx)

	ebiten.SetWindowSize(screenWidth/2, screenHeight/2)
	ebiten.SetWindowTitle("Kong Jr")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	g := NewGame(ctx, sess, cfg, logger)
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		logger.Error("Ebitengine error", "error", err)
	}

	sess.RequestDisconnect()
	logger.Info("Client finished.")
}
