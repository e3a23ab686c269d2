package main

import (
	"context"
	"fmt"

	"github.com/camai/camsync"
	"github.com/spf13/cobra"
)

func init() {
	tokenCmd.AddCommand(tokenRegisterCmd)
	tokenCmd.AddCommand(tokenUnregisterCmd)
	tokenCmd.AddCommand(tokenShowCmd)
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the push notification token",
}

// newRegistrar builds a registrar over the persisted state.
func newRegistrar(e *env) (*camsync.Registrar, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	client := camsync.NewClient(e.target, camsync.WithClientLogger(e.log))
	return camsync.NewRegistrar(client, store, camsync.Config{}, e.log, nil), nil
}

var tokenRegisterCmd = &cobra.Command{
	Use:   "register [token]",
	Short: "Store a push token and register it with the device",
	Long:  "Store a push token locally and register it with the device.\nWithout an argument the stored token is registered again.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		reg, err := newRegistrar(e)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if len(args) == 1 {
			reg.SetToken(ctx, args[0])
		}
		// A one-shot command has no channel; a successful probe stands in for Open.
		if err := camsync.NewResolver(camsync.Config{}).Probe(ctx, e.target); err != nil {
			return fmt.Errorf("token stored, device unreachable: %w", err)
		}
		res := reg.Opened(ctx)
		switch {
		case res.Registered:
			fmt.Printf("Token %s registered with %s\n", maskToken(reg.Token()), e.target)
		case res.Deferred:
			fmt.Println("No push token stored. Pass one as an argument.")
		default:
			return res.Err
		}
		return nil
	},
}

var tokenUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove the stored push token from the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		reg, err := newRegistrar(e)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := reg.Unregister(ctx); err != nil {
			return err
		}
		fmt.Println("Token unregistered.")
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored push token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		tok, ok := store.Get(camsync.KeyPushToken)
		if !ok || tok == "" {
			fmt.Println("(none)")
			return nil
		}
		fmt.Println(maskToken(tok))
		return nil
	},
}
