package keys

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	"xdao.co/license/pubkey"
)

func TestStore_InitLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	st, err := NewStore(fs, "/keys/license/private_key.pem")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := st.Load(); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	kp, err := st.Init(nil, pubkey.SchemeP384, false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	info, err := fs.Stat(st.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}

	loaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PublicHex() != kp.PublicHex() {
		t.Fatalf("loaded key differs from generated key")
	}
}

func TestStore_InitRefusesOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	st, err := NewStore(fs, "/k.pem")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first, err := st.Init(&deterministicReader{}, pubkey.SchemeEd448, false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := st.Init(nil, pubkey.SchemeEd448, false); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
	if err := st.Save(first, false); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists from Save, got %v", err)
	}

	second, err := st.Init(&deterministicReader{b: 7}, pubkey.SchemeEd448, true)
	if err != nil {
		t.Fatalf("Init overwrite: %v", err)
	}
	loaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PublicHex() != second.PublicHex() || loaded.PublicHex() == first.PublicHex() {
		t.Fatalf("expected overwritten key")
	}
}

func TestNewStore_DefaultPathExpandsHome(t *testing.T) {
	st, err := NewStore(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if st.Path() == DefaultKeyPath || st.Path()[0] == '~' {
		t.Fatalf("expected expanded path, got %q", st.Path())
	}
}
