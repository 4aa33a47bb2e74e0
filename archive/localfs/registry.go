package localfs

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"xdao.co/license/archive"
	"xdao.co/license/archive/registry"
)

const flagDir = "localfs-dir"

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local directory license archive",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *pflag.FlagSet) {
			fs.String(flagDir, "", "License archive directory (for --archive-backend=localfs)")
		},
		Open: func(fs *pflag.FlagSet) (archive.Store, func() error, error) {
			dir, err := fs.GetString(flagDir)
			if err != nil {
				return nil, nil, err
			}
			if dir == "" {
				return nil, nil, fmt.Errorf("missing --%s", flagDir)
			}
			st, err := New(afero.NewOsFs(), dir)
			return st, nil, err
		},
	})
}
