package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DepressionHub/session-relay/internal/models"
	"github.com/DepressionHub/session-relay/internal/peer"
)

var (
	serverURL   string
	sessionID   string
	roleStr     string
	displayName string
	stunServer  string
)

var rootCmd = &cobra.Command{
	Use:   "relay-peer",
	Short: "Join a relay session as a seeker or provider",
	Long: `relay-peer connects to a session relay, joins the given session under
the chosen role and negotiates a peer-to-peer media connection with the
counterpart. Providers initiate the offer; seekers answer.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080", "relay server URL")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "session id to join (required)")
	rootCmd.Flags().StringVarP(&roleStr, "role", "r", "", "role: seeker or provider (required)")
	rootCmd.Flags().StringVarP(&displayName, "name", "n", "", "display name shown to the counterpart")
	rootCmd.Flags().StringVar(&stunServer, "stun", "stun:stun.l.google.com:19302", "STUN server for ICE")
	rootCmd.MarkFlagRequired("session")
	rootCmd.MarkFlagRequired("role")
}

func run(cmd *cobra.Command, args []string) error {
	role, err := models.ParseRole(roleStr)
	if err != nil {
		return err
	}
	if displayName == "" {
		displayName = string(role)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sig := peer.NewSignalingClient(serverURL, sessionID, role, displayName)
	manager := peer.NewManager(sig, role, sessionID, displayName, peer.NewSampleMedia(), stunServer)

	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
