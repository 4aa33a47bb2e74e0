package grpcarchive

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"xdao.co/license/archive"
	"xdao.co/license/archive/registry"
)

const (
	flagTarget      = "grpc-target"
	flagDialTimeout = "grpc-dial-timeout"
	flagTimeout     = "grpc-timeout"
	flagMaxMsgBytes = "grpc-max-msg-bytes"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC archive client (talks to xdao-licarchived)",
		Usage:       registry.UsageCLI,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String(flagTarget, "", "gRPC target host:port (for --archive-backend=grpc)")
			fs.Duration(flagDialTimeout, 5*time.Second, "Dial timeout (for --archive-backend=grpc)")
			fs.Duration(flagTimeout, 0, "Per-RPC timeout (for --archive-backend=grpc)")
			fs.Int(flagMaxMsgBytes, 0, "Max gRPC message size in bytes (send+recv); 0 uses grpc defaults")
		},
		Open: func(fs *pflag.FlagSet) (archive.Store, func() error, error) {
			target, err := fs.GetString(flagTarget)
			if err != nil {
				return nil, nil, err
			}
			target = strings.TrimSpace(target)
			if target == "" {
				return nil, nil, fmt.Errorf("missing --%s", flagTarget)
			}
			dialTimeout, err := fs.GetDuration(flagDialTimeout)
			if err != nil {
				return nil, nil, err
			}
			timeout, err := fs.GetDuration(flagTimeout)
			if err != nil {
				return nil, nil, err
			}
			maxMsg, err := fs.GetInt(flagMaxMsgBytes)
			if err != nil {
				return nil, nil, err
			}
			client, err := Dial(target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
