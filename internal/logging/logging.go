package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// viper keys shared with the CLI flags
const (
	LevelKey   = "log.level"
	FormatKey  = "log.format"
	NoColorKey = "log.no_color"
)

// InitDefault sets up a console logger before flags are parsed.
func InitDefault() {
	log.Logger = zerolog.New(consoleWriter(os.Stderr, false)).With().Timestamp().Logger()
}

// Init configures the global logger from viper-bound settings.
// A nil writer defaults to stderr.
func Init(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString(LevelKey)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = w
	if viper.GetString(FormatKey) != "json" {
		out = consoleWriter(w, viper.GetBool(NoColorKey))
	}

	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	}
}
