package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// The engine emits three kinds of lines through one logger: request logs,
// audit events and lifecycle messages. One stream keeps ordering between an
// audit event and the request that caused it.
const logService = "sentra-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide JSON line logger.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON line per request. The service name is stamped so
// aggregated streams stay attributable.
func LogRequest(entry map[string]any) {
	if _, ok := entry["service"]; !ok {
		entry["service"] = logService
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"` + logService + `","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
