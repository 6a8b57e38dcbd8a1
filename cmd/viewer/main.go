package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"balldrop.ai/internal/cue"
)

type viewer struct {
	screen  tcell.Screen
	scene   *scene
	client  *client
	player  *cue.Player
	refetch chan struct{}
	// pending is set while a bootstrap refetch is in flight.
	pending bool
}

func main() {
	var (
		server    = flag.String("server", "http://127.0.0.1:8080", "race server base URL")
		fps       = flag.Int("fps", 30, "max frames per second requested from the server")
		actuators = flag.Bool("actuators", true, "draw spinner and flipper motion")
		sound     = flag.Bool("sound", false, "play race cues")
		volume    = flag.Float64("volume", 0.6, "cue volume in [0,1]")
		logPath   = flag.String("log", "", "write viewer logs to this file")
	)
	flag.Parse()

	logOut := io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "log:", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := log.New(logOut, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	player := cue.NewPlayer(*volume)
	if *sound {
		if err := player.Open(); err != nil {
			// The viewer runs without sound.
			logger.Printf("audio init failed: %v", err)
		}
	}
	defer player.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v := &viewer{
		screen:  screen,
		scene:   newScene(),
		client:  newClient(*server, *fps),
		player:  player,
		refetch: make(chan struct{}, 1),
	}
	go v.client.fetchLoop(ctx, v.refetch)
	go v.client.streamLoop(ctx, *actuators)
	v.requestBootstrap()
	v.run()
}

func (v *viewer) requestBootstrap() {
	if v.pending {
		return
	}
	v.pending = true
	select {
	case v.refetch <- struct{}{}:
	default:
	}
}

func (v *viewer) handle(u update) {
	switch {
	case u.boot != nil:
		v.pending = false
		v.scene.setBootstrap(*u.boot)
	case u.frame != nil:
		if v.scene.apply(*u.frame) {
			v.requestBootstrap()
		}
		for _, sig := range u.frame.Signals {
			v.player.Signal(sig)
		}
	case u.status != "":
		v.scene.status = u.status
	}
}

func (v *viewer) handleInput(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
			return false
		}
		if ev.Key() == tcell.KeyRune {
			switch ev.Rune() {
			case 'q':
				return false
			case 'f':
				v.scene.follow = !v.scene.follow
			case 'r':
				v.requestBootstrap()
			}
		}
	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true
}

func (v *viewer) run() {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			eventChan <- ev
		}
	}()

	for {
		select {
		case ev := <-eventChan:
			if !v.handleInput(ev) {
				return
			}
		case u := <-v.client.updates:
			v.handle(u)
		case <-ticker.C:
			v.scene.draw(v.screen)
			v.screen.Show()
		}
	}
}
