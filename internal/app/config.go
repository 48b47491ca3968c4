package app

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home         string         // state directory, e.g. $HOME/.loom
	DirectoryURL string         // key directory base URL, e.g. http://127.0.0.1:8080
	HTTP         *http.Client   // optional; defaults to http.DefaultClient
	Log          *logrus.Logger // optional; defaults to logrus.StandardLogger
}
