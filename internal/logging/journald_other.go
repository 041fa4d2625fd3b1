//go:build !linux

package logging

import (
	"errors"
	"log/slog"
)

func newJournaldHandler() (slog.Handler, error) {
	return nil, errors.New("logging: journald sink is only supported on linux")
}
