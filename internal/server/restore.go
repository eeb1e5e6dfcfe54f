package server

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"

	"github.com/loganszeto/framekv/internal/persistence"
	"github.com/loganszeto/framekv/internal/store"
)

// LoadStore builds the process store from the snapshot at path. When a
// mirror is given and there is no local snapshot, the remote copy is fetched
// first. Any failure leaves an empty store.
func LoadStore(ctx context.Context, path string, mirror persistence.Mirror, log zerolog.Logger) *store.Store {
	if mirror != nil {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := mirror.Download(ctx, path); err != nil {
				log.Warn().Err(err).Msg("snapshot download failed")
			}
		}
	}

	st, err := persistence.Restore(path)
	switch {
	case err == nil:
		log.Info().Str("path", path).Int("keys", st.Len()).Msg("restored snapshot")
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", path).Msg("no snapshot, starting empty")
	default:
		log.Warn().Err(err).Msg("ignoring unusable snapshot, starting empty")
	}
	return st
}
