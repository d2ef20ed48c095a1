package echo

import (
	"log/slog"

	"mbft/internal/logging"
	"mbft/internal/transport"
)

// Registrar is the slice of the transport the echo application needs.
type Registrar interface {
	Register(prefixes []string, h transport.Handler)
}

// App logs firmware echo lines at info level.
type App struct {
	logger *slog.Logger
}

func New(r Registrar, l *slog.Logger) *App {
	if l == nil {
		l = logging.L()
	}
	a := &App{logger: l}
	r.Register([]string{"echo:"}, a.handle)
	return a
}

func (a *App) handle(_, tail string) {
	a.logger.Info("echo", "message", tail)
}
