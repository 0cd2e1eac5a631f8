// Command duocall is the two-party call client.
//
// duocall joins a room on the signaling relay with a silent local audio
// stream and negotiates a direct media session with whoever else shows up.
// It exists to exercise the full path end to end; real UIs drive the same
// orchestrator with captured media.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/duocall/duocall/internal/call"
	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/util"
)

var (
	flagRelay string
	flagRoom  string
	flagDebug bool
)

func main() {
	root := &cobra.Command{
		Use:           "duocall",
		Short:         "Direct two-party calls over a signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&flagRelay, "relay", "", "relay websocket URL (overrides CALL_RELAY_URL)")
	root.Flags().StringVar(&flagRoom, "room", "", "room to join (overrides CALL_ROOM)")
	root.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagDebug {
		util.EnableDebug()
	}

	cfg := config.LoadCall()
	if flagRelay != "" {
		cfg.RelayURL = flagRelay
	}
	if flagRoom != "" {
		cfg.RoomID = flagRoom
	}
	if cfg.RoomID == "" {
		return errors.New("no room: set --room or CALL_ROOM")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := media.NewSilentAudioStream()
	if err != nil {
		return err
	}

	orch := call.NewOrchestrator(cfg)
	orch.OnStateChange(func(s call.State) {
		util.LogInfo("call state: %s", s)
	})
	orch.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		util.LogInfo("remote %s track (%s)", track.Kind(), track.Codec().MimeType)
		go drainTrack(track)
	})

	util.LogInfo("joining room %s via %s", cfg.RoomID, cfg.RelayURL)
	if err := orch.StartCall(ctx, stream); err != nil {
		stream.Close()
		return err
	}

	<-ctx.Done()
	orch.LeaveRoom()
	orch.Cleanup()
	return nil
}

// drainTrack keeps reading a remote track so the receiver stays serviced.
// A real UI would decode and render here.
func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
