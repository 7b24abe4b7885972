package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger. Unknown levels fall back to info.
func Setup(level, format string) {
	log.SetOutput(os.Stderr)
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
