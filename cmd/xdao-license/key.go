package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/license/keys"
	"xdao.co/license/pubkey"
)

func (a *app) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the issuing key",
	}
	cmd.AddCommand(a.keyInitCmd(), a.keyPublicCmd(), a.keyFingerprintCmd())
	return cmd
}

func (a *app) keyInitCmd() *cobra.Command {
	var scheme string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate and store a new issuing key",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			if scheme == "" {
				scheme = a.cfg.Scheme
			}
			s, err := pubkey.ParseScheme(scheme)
			if err != nil {
				return usageError{err}
			}
			st, err := a.keyStore()
			if err != nil {
				return err
			}
			kp, err := st.Init(nil, s, force)
			if err != nil {
				return err
			}
			a.log.WithField("path", st.Path()).Info("Stored new issuing key")
			fmt.Fprintf(a.out, "path: %s\n", st.Path())
			fmt.Fprintf(a.out, "scheme: %s\n", kp.Scheme())
			fmt.Fprintf(a.out, "public_hex: %s\n", kp.PublicHex())
			fmt.Fprintf(a.out, "fingerprint: %s\n", kp.Public().Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", "", "Signature scheme: p384 or ed448 (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing key")
	return cmd
}

func (a *app) keyPublicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "public",
		Short: "Print the trust anchor (public key hex) of the issuing key",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			kp, err := a.loadKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, kp.PublicHex())
			return nil
		},
	}
}

func (a *app) keyFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the issuing key",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			kp, err := a.loadKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, kp.Public().Fingerprint())
			return nil
		},
	}
}

func (a *app) keyStore() (*keys.Store, error) {
	return keys.NewStore(a.fs, a.cfg.KeyFile)
}

func (a *app) loadKey() (*keys.KeyPair, error) {
	st, err := a.keyStore()
	if err != nil {
		return nil, err
	}
	return st.Load()
}
