package zerolog_config

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

var startupOnce sync.Once

// ElasticsearchWriter ships ECS-formatted log events to Elasticsearch.
type ElasticsearchWriter struct {
	URL string
}

func (ew ElasticsearchWriter) Write(p []byte) (n int, err error) {
	resp, err := http.Post(
		ew.URL+"/_doc",
		"application/json",
		bytes.NewBuffer(p),
	)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}

	return len(p), nil
}

func parseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

func startup(app, elasticsearchURL, index string) {
	zerolog.SetGlobalLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}

	if elasticsearchURL == "" {
		log.Logger = zerolog.New(consoleWriter).With().
			Str("app", app).
			Timestamp().Logger()
		return
	}

	// ECS format for Elasticsearch, pretty output for the console.
	ecsLogger := ecszerolog.New(&ElasticsearchWriter{
		URL: elasticsearchURL + "/" + index,
	})

	multi := zerolog.MultiLevelWriter(ecsLogger, consoleWriter)

	log.Logger = zerolog.New(multi).With().
		Str("app", app).
		Timestamp().Logger()
}

// Startup configures the global logger for the given app name. When
// elasticsearchURL is non-empty, log events are additionally shipped to
// Elasticsearch under the given index. Repeated calls are no-ops.
func Startup(app, elasticsearchURL, index string) error {
	if app == "" {
		return fmt.Errorf("app name is required")
	}
	startupOnce.Do(func() {
		startup(app, elasticsearchURL, index)
	})
	return nil
}
